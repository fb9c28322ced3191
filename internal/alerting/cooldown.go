package alerting

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat alerts for the same key within a window.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown constructs a Cooldown. A non-positive window never suppresses.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether key may alert at now, and if so records it.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[key]; ok && c.window > 0 && now.Sub(prev) < c.window {
		return false
	}
	c.last[key] = now
	return true
}
