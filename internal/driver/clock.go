package driver

import (
	"sync"
	"time"
)

// Clock is the simulation time source. While playing it runs at wall-clock
// speed shifted by an offset; while paused it holds one instant.
type Clock struct {
	mu     sync.Mutex
	now    func() time.Time
	offset time.Duration
	paused bool
	frozen time.Time
}

// NewClock returns a playing clock at real time. now defaults to time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the current simulation time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() time.Time {
	if c.paused {
		return c.frozen
	}
	return c.now().Add(c.offset).UTC()
}

// Set jumps to t, keeping the play state.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t.UTC())
}

func (c *Clock) setLocked(t time.Time) {
	if c.paused {
		c.frozen = t
	}
	c.offset = t.Sub(c.now())
}

// Shift moves the simulation time by d.
func (c *Clock) Shift(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.nowLocked().Add(d))
}

// Pause freezes the clock at the current simulation time.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.frozen = c.nowLocked()
		c.paused = true
	}
}

// Play resumes from the frozen instant.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.offset = c.frozen.Sub(c.now())
		c.paused = false
	}
}

// Playing reports whether the clock is running.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.paused
}

// Offset returns the simulation time minus wall-clock time.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked().Sub(c.now())
}
