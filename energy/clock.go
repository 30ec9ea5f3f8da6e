package energy

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Time is an input, not an ambient read
// =============================================================================

// Clock supplies the current unix timestamp to all accrual calculations.
// Deployments use SystemClock; tests use ManualClock so every calculation is
// reproducible. The engine assumes Now never moves backward between calls.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(now int64) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to the given timestamp. Moving backward is allowed
// here (tests need it) but the engine's guarantees assume forward motion.
func (c *ManualClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
