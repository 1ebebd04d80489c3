package store

import (
	"sync/atomic"

	"github.com/roach88/notesync/internal/ir"
)

// Clock is a Lamport clock bound to one replica's client id.
//
// Tick returns a stamp strictly greater than every stamp this replica has
// produced or observed, so a local edit made after receiving a remote one
// always wins over it.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	clientID string
	counter  atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock(clientID string) *Clock {
	return &Clock{clientID: clientID}
}

// NewClockAt creates a clock resuming from a known counter.
func NewClockAt(clientID string, start int64) *Clock {
	c := &Clock{clientID: clientID}
	c.counter.Store(start)
	return c
}

// Tick returns the next local stamp.
func (c *Clock) Tick() ir.Stamp {
	return ir.Stamp{Counter: c.counter.Add(1), ClientID: c.clientID}
}

// Observe raises the counter to at least the stamp's counter.
func (c *Clock) Observe(s ir.Stamp) {
	for {
		cur := c.counter.Load()
		if s.Counter <= cur {
			return
		}
		if c.counter.CompareAndSwap(cur, s.Counter) {
			return
		}
	}
}

// Current returns the counter without incrementing.
func (c *Clock) Current() int64 {
	return c.counter.Load()
}

// ClientID returns the replica id stamped on local writes.
func (c *Clock) ClientID() string {
	return c.clientID
}
