package engine

import (
	"sync"
	"time"
)

// Clock stamps store events with a seq and a timestamp.
//
// Seqs are strictly increasing and timestamps never decrease in seq order,
// so a trace sorted by seq is also sorted by time. Stores that share a
// clock interleave their events in one order.
type Clock struct {
	mu   sync.Mutex
	seq  int64
	last time.Time
	now  func() time.Time
}

// NewClock creates a clock reading wall time.
func NewClock() *Clock {
	return NewClockWithTime(time.Now)
}

// NewClockWithTime creates a clock reading timestamps from now.
func NewClockWithTime(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Stamp advances the clock and returns the new seq and its timestamp.
func (c *Clock) Stamp() (int64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := c.now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return c.seq, t
}
