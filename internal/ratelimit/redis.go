package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// slidingWindowScript prunes, counts and records in one atomic step.
// KEYS[1] window key; ARGV now_ms, window_ms, limit, member.
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// RedisLimiter keeps each identity's window in a Redis sorted set so quotas
// hold across every API instance.
type RedisLimiter struct {
	rdb    redis.Scripter
	quotas Quotas
	prefix string
	now    func() time.Time
}

// RedisOption customises a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		l.now = now
	}
}

// NewRedisClient builds a client from configuration and pings it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisLimiter constructs a RedisLimiter. Keys are "<prefix>:<tier>:<identity>".
func NewRedisLimiter(rdb redis.Scripter, quotas Quotas, prefix string, opts ...RedisOption) (*RedisLimiter, error) {
	if err := quotas.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	l := &RedisLimiter{rdb: rdb, quotas: quotas, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TryConsume runs the sliding window script for identity.
func (l *RedisLimiter) TryConsume(ctx context.Context, identity string, tier market.Tier) (Decision, error) {
	limit := l.quotas.Limit(tier)
	key := l.prefix + ":" + windowKey(identity, tier)

	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{key},
		l.now().UnixMilli(),
		l.quotas.Window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	decision := Decision{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: int(res[1]),
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return decision, nil
}

var _ Limiter = (*RedisLimiter)(nil)
