package testutil

import (
	"sync"
	"time"
)

// ManualClock is a physical wall clock for tests. It only moves when told to.
//
// Pass ManualClock.Now to hlc.WithNow so that clock drift, counter overflow
// and bucket boundaries can be driven deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// NewManualClockMillis creates a clock reading the given Unix milliseconds.
func NewManualClockMillis(ms int64) *ManualClock {
	return NewManualClock(time.UnixMilli(ms))
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward (or backward, for negative d).
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// SetMillis jumps the clock to the given Unix milliseconds.
func (c *ManualClock) SetMillis(ms int64) {
	c.Set(time.UnixMilli(ms))
}
