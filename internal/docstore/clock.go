package docstore

import (
	"sync"
	"time"
)

// Clock assigns server timestamps. Successive readings are strictly
// increasing at the configured resolution, so items written in sequence never
// tie on their creation time.
type Clock struct {
	mu         sync.Mutex
	now        func() time.Time
	resolution time.Duration
	last       time.Time
}

// NewClock returns a Clock reading now (time.Now when nil) truncated to
// resolution. MongoDB stores milliseconds, the in-memory engine microseconds.
func NewClock(now func() time.Time, resolution time.Duration) *Clock {
	if now == nil {
		now = time.Now
	}
	if resolution <= 0 {
		resolution = time.Microsecond
	}
	return &Clock{now: now, resolution: resolution}
}

// Now returns the next server timestamp.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(c.resolution)
	if !t.After(c.last) {
		t = c.last.Add(c.resolution)
	}
	c.last = t
	return t
}
