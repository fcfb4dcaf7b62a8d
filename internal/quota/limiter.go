package quota

import (
	"context"
	"log/slog"
	"time"
)

// Quotas holds the daily limits per tier. Pro is always unlimited.
type Quotas struct {
	Anonymous int
	Free      int
}

// DefaultQuotas mirrors the production tiers: 3/day anonymous, 10/day free.
func DefaultQuotas() Quotas {
	return Quotas{Anonymous: 3, Free: 10}
}

// Limiter enforces daily quotas against a counter store.
type Limiter struct {
	querier Querier
	quotas  Quotas
	logger  *slog.Logger
	now     func() time.Time // injectable for tests
}

// NewLimiter creates a Limiter. logger nil means slog.Default().
func NewLimiter(querier Querier, quotas Quotas, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		querier: querier,
		quotas:  quotas,
		logger:  logger,
		now:     time.Now,
	}
}

// Limit returns the daily cap for tier. unlimited is true for pro and any
// unrecognized tier string from an account record is treated as free.
func (l *Limiter) Limit(tier Tier) (limit int, unlimited bool) {
	switch tier {
	case TierPro:
		return 0, true
	case TierAnonymous:
		return l.quotas.Anonymous, false
	default:
		return l.quotas.Free, false
	}
}

// Check reports whether the identity's next request would be allowed today.
// Read-only: spending the slot is Increment's job, kept separate so callers
// can reject before consuming quota.
//
// A counter-store failure fails open: allowed, with the anonymous limit as
// the assumed remaining budget. The failure never reaches the caller.
func (l *Limiter) Check(ctx context.Context, id Identity, tier Tier) Decision {
	limit, unlimited := l.Limit(tier)
	if unlimited {
		return Decision{Allowed: true, Unlimited: true}
	}

	used, err := l.querier.UsageCount(ctx, id.ID, Day(l.now()))
	if err != nil {
		l.logger.Warn("counter store unavailable, failing open",
			"identity", id.ID, "error", err)
		return Decision{Allowed: true, Used: 0, Remaining: l.quotas.Anonymous}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: used < limit, Used: used, Remaining: remaining}
}

// Increment spends one quota slot for the identity today. The underlying
// upsert is atomic, so concurrent increments never lose updates. Store
// failures are swallowed (fail-open, consistent with Check) after logging.
func (l *Limiter) Increment(ctx context.Context, id Identity, tier Tier) {
	count, err := l.querier.IncrementUsage(ctx, id.ID, Day(l.now()), tier)
	if err != nil {
		l.logger.Warn("usage increment failed",
			"identity", id.ID, "tier", tier, "error", err)
		return
	}
	l.logger.Debug("usage incremented", "identity", id.ID, "count", count)
}
