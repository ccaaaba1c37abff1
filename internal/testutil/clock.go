package testutil

import (
	"sync"
	"time"
)

// Clock is a manual time source. Engine, merger, and importer tests pass
// Clock.Now wherever a func() time.Time is accepted.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock at now, or at BaseTime so that it lines up with
// host fixtures.
func NewClock(now ...time.Time) *Clock {
	t := BaseTime
	if len(now) > 0 {
		t = now[0]
	}
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Ticker returns a time source that advances the clock by step after every
// read, giving each caller a distinct, increasing timestamp.
func (c *Clock) Ticker(step time.Duration) func() time.Time {
	return func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		t := c.now
		c.now = c.now.Add(step)
		return t
	}
}
