package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Querier against PostgreSQL.
//
// The increment is a single upsert, so the store — not the application — is
// the serialization point for concurrent requests from one identity.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore on an existing pool. The pool's lifecycle
// belongs to the caller.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// UsageCount returns today's count for identity, 0 when no row exists.
func (s *PGStore) UsageCount(ctx context.Context, identity, day string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM usage_counters WHERE identity = $1 AND day = $2`,
		identity, day,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading usage counter: %w", err)
	}
	return count, nil
}

// IncrementUsage upserts the (identity, day) row and returns the new count.
func (s *PGStore) IncrementUsage(ctx context.Context, identity, day string, tier Tier) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (identity, day, tier, count, updated_at)
		 VALUES ($1, $2, $3, 1, now())
		 ON CONFLICT (identity, day)
		 DO UPDATE SET count = usage_counters.count + 1,
		               tier = EXCLUDED.tier,
		               updated_at = now()
		 RETURNING count`,
		identity, day, string(tier),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing usage counter: %w", err)
	}
	return count, nil
}

// AccountBySession resolves a live session token to its account. The expiry
// check happens in SQL so an expired token and a missing one are
// indistinguishable to callers.
func (s *PGStore) AccountBySession(ctx context.Context, token string) (Account, error) {
	var acct Account
	var tier string
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.tier
		   FROM sessions s
		   JOIN users u ON u.id = s.user_id
		  WHERE s.token = $1
		    AND (s.expires_at IS NULL OR s.expires_at > now())`,
		token,
	).Scan(&acct.UserID, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNoAccount
	}
	if err != nil {
		return Account{}, fmt.Errorf("resolving session: %w", err)
	}
	acct.Tier = Tier(tier)
	return acct, nil
}

// AccountByAPIKey resolves an API key to its account.
func (s *PGStore) AccountByAPIKey(ctx context.Context, key string) (Account, error) {
	var acct Account
	var tier string
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.tier
		   FROM api_keys k
		   JOIN users u ON u.id = k.user_id
		  WHERE k.key = $1`,
		key,
	).Scan(&acct.UserID, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNoAccount
	}
	if err != nil {
		return Account{}, fmt.Errorf("resolving api key: %w", err)
	}
	acct.Tier = Tier(tier)
	return acct, nil
}
