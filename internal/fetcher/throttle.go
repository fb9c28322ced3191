package fetcher

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle spaces outbound calls to one provider so its own quota is not
// burned by bursts.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows rps requests per second. Non-positive rps disables it.
func NewThrottle(rps float64) *Throttle {
	if rps <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a call is permitted or ctx ends.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
