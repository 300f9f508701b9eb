package optracker

import "sync/atomic"

// Counter hands out operation sequence numbers.
//
// Every registered op is stamped with a strictly increasing number from this
// counter. Because ops are appended to the in-flight set in the same
// critical section that stamps them, sequence order equals arrival order.
//
// Thread-safety: Counter is safe for concurrent use (atomic operations).
// The Tracker additionally calls Next() under its own lock.
type Counter struct {
	seq atomic.Uint64
}

// NewCounter creates a counter whose first Next() returns 1.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter that resumes after start.
func NewCounterAt(start uint64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the counter.
func (c *Counter) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Counter) Current() uint64 {
	return c.seq.Load()
}
