package execution

import (
	"sync"
	"time"
)

// CooldownMap tracks the last trade time per symbol and enforces a minimum
// spacing between trades on the same instrument.
type CooldownMap struct {
	mu     sync.Mutex
	period time.Duration
	last   map[string]time.Time
}

func NewCooldownMap(period time.Duration) *CooldownMap {
	return &CooldownMap{
		period: period,
		last:   make(map[string]time.Time),
	}
}

// Remaining returns how much cooldown is left for the symbol; zero means the
// symbol is eligible.
func (c *CooldownMap) Remaining(symbol string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[symbol]
	if !ok || c.period <= 0 {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= c.period {
		return 0
	}
	return c.period - elapsed
}

// Record marks a trade on the symbol, restarting its cooldown.
func (c *CooldownMap) Record(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[symbol] = now
}
