package rule

import (
	"sync"
	"time"
)

// Cooldowns tracks per-player expiry for one rule. First touch arms the
// window without blocking; while armed the rule reports the remaining
// time; an expired entry is dropped and the next touch starts over.
// Evaluations may race under a multithreaded host, so the map is guarded:
// a lost update here would let a cooldown be bypassed.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{until: make(map[string]time.Time)}
}

// Touch consults and advances the cooldown state for player at now.
// It reports whether the cooldown is currently active and, if so, the
// remaining duration.
func (c *Cooldowns) Touch(player string, window time.Duration, now time.Time) (active bool, remaining time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.until[player]
	if ok && now.Before(exp) {
		return true, exp.Sub(now)
	}
	// Absent or expired: arm a fresh window.
	c.until[player] = now.Add(window)
	return false, 0
}

// Forget drops the player's entry (player disconnected).
func (c *Cooldowns) Forget(player string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, player)
}
