package ratelimit

import (
	"context"
	"fmt"
	"time"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// Decision is the outcome of one TryConsume call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter admits or rejects requests against a per-identity sliding window.
// Check and increment happen atomically, so concurrent callers for the same
// identity never both take the last slot.
type Limiter interface {
	TryConsume(ctx context.Context, identity string, tier market.Tier) (Decision, error)
}

// Quotas are the per-tier allowances over one sliding window.
type Quotas struct {
	Window time.Duration
	Free   int
	Pro    int
}

// DefaultQuotas is 20 requests/hour for free and 100 requests/hour for pro.
func DefaultQuotas() Quotas {
	return Quotas{Window: time.Hour, Free: 20, Pro: 100}
}

// QuotasFromConfig converts the ratelimit configuration section.
func QuotasFromConfig(cfg config.RateLimitConfig) Quotas {
	return Quotas{Window: cfg.Window, Free: cfg.Tiers.Free, Pro: cfg.Tiers.Pro}
}

// Limit returns the allowance for tier. Unknown tiers get the free quota.
func (q Quotas) Limit(tier market.Tier) int {
	if tier == market.TierPro {
		return q.Pro
	}
	return q.Free
}

func (q Quotas) validate() error {
	if q.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if q.Free <= 0 || q.Pro <= 0 {
		return fmt.Errorf("rate limit quotas must be positive")
	}
	return nil
}

func windowKey(identity string, tier market.Tier) string {
	return string(tier) + ":" + identity
}
