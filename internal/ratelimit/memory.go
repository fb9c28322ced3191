package ratelimit

import (
	"context"
	"sync"
	"time"

	"finpath-insight/internal/market"
)

// MemoryLimiter keeps sliding-window logs in process. It is suitable for a
// single instance; use RedisLimiter when several instances share quotas.
type MemoryLimiter struct {
	quotas Quotas
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*slidingLog
}

type slidingLog struct {
	mu     sync.Mutex
	stamps []time.Time
}

// MemoryOption customises a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter(quotas Quotas, opts ...MemoryOption) (*MemoryLimiter, error) {
	if err := quotas.validate(); err != nil {
		return nil, err
	}
	l := &MemoryLimiter{
		quotas:  quotas,
		now:     time.Now,
		windows: make(map[string]*slidingLog),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TryConsume records one request for identity if the window has room.
func (l *MemoryLimiter) TryConsume(_ context.Context, identity string, tier market.Tier) (Decision, error) {
	limit := l.quotas.Limit(tier)
	log := l.window(windowKey(identity, tier))

	log.mu.Lock()
	defer log.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.quotas.Window)
	kept := log.stamps[:0]
	for _, ts := range log.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	log.stamps = kept

	if len(log.stamps) >= limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: log.stamps[0].Add(l.quotas.Window).Sub(now),
		}, nil
	}

	log.stamps = append(log.stamps, now)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(log.stamps),
	}, nil
}

func (l *MemoryLimiter) window(key string) *slidingLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	log, ok := l.windows[key]
	if !ok {
		log = &slidingLog{}
		l.windows[key] = log
	}
	return log
}

var _ Limiter = (*MemoryLimiter)(nil)
