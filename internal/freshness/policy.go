package freshness

import (
	"fmt"
	"time"

	"finpath-insight/internal/market"
)

// Default TTLs per data type.
var defaultTTLs = map[market.DataType]time.Duration{
	market.StockPrice:   60 * time.Second,
	market.Indices:      60 * time.Second,
	market.News:         300 * time.Second,
	market.History:      3600 * time.Second,
	market.Fundamentals: 86400 * time.Second,
}

// Policy maps each data type to the maximum age of a cached record.
type Policy struct {
	ttls map[market.DataType]time.Duration
}

// Default returns the policy with the stock TTLs.
func Default() Policy {
	p, _ := New(nil)
	return p
}

// New builds a policy from overrides layered on the defaults. A TTL of zero
// means every lookup refetches.
func New(overrides map[market.DataType]time.Duration) (Policy, error) {
	ttls := make(map[market.DataType]time.Duration, len(defaultTTLs))
	for dt, ttl := range defaultTTLs {
		ttls[dt] = ttl
	}
	for dt, ttl := range overrides {
		if ttl < 0 {
			return Policy{}, fmt.Errorf("freshness ttl for %s cannot be negative", dt)
		}
		ttls[dt] = ttl
	}
	return Policy{ttls: ttls}, nil
}

// TTL returns the maximum age for dt.
func (p Policy) TTL(dt market.DataType) time.Duration {
	return p.ttls[dt]
}

// IsStale reports whether a record fetched at fetchedAt is older than the TTL
// of dt at now. A record exactly TTL old is still fresh; a zero TTL is always
// stale.
func (p Policy) IsStale(dt market.DataType, fetchedAt, now time.Time) bool {
	ttl := p.TTL(dt)
	if ttl == 0 {
		return true
	}
	return now.Sub(fetchedAt) > ttl
}
