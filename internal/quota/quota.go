// Package quota resolves caller identity and enforces per-identity daily
// usage limits.
//
// One logical counter exists per (identity, day). Check is a read-only
// pre-check; Increment is the only mutation and is atomic at the store, so N
// concurrent allowed requests from one identity add exactly N to the count.
//
// If the counter store is unreachable the limiter fails open: callers are
// allowed with a small default budget rather than the whole service going
// dark during a counter-store outage.
package quota

import (
	"context"
	"errors"
	"time"
)

// Tier is a usage class with a daily search quota.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
)

// Source describes how an identity was established, strongest first.
type Source string

const (
	SourceSession     Source = "session"
	SourceAPIKey      Source = "api_key"
	SourceFingerprint Source = "fingerprint"
)

// Identity is a resolved caller reference. Derived once per request and used
// only as the counter key; never persisted as an entity of its own.
type Identity struct {
	ID     string
	Source Source
}

// Decision is the outcome of a quota pre-check for the caller's next request.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int  // meaningless when Unlimited
	Unlimited bool // pro tier has no daily cap
}

// Account is the tier-bearing account a credential resolves to.
type Account struct {
	UserID string
	Tier   Tier
}

// ErrNoAccount indicates a credential matched no known account.
var ErrNoAccount = errors.New("no matching account")

// Querier is the persistence surface the limiter and resolver need.
// Implemented by PGStore in production and by fakes in tests.
type Querier interface {
	// UsageCount returns the current count for (identity, day), 0 if no
	// record exists yet.
	UsageCount(ctx context.Context, identity, day string) (int, error)

	// IncrementUsage atomically creates the day's record at count=1 or adds 1
	// to it, refreshing the timestamp, and returns the new count.
	IncrementUsage(ctx context.Context, identity, day string, tier Tier) (int, error)

	// AccountBySession resolves a session token to an account. Expired
	// sessions return ErrNoAccount.
	AccountBySession(ctx context.Context, token string) (Account, error)

	// AccountByAPIKey resolves an API key to an account.
	AccountByAPIKey(ctx context.Context, key string) (Account, error)
}

// Day formats t as the UTC calendar-day counter key.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
