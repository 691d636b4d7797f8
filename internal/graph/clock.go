package graph

import "sync/atomic"

// Clock is a monotonic counter used to stamp node runs.
//
// Each run of a node gets a fresh token from Clock.Next. A run whose token
// no longer matches its entry's token when it finishes was superseded by an
// invalidation and its result is delivered to waiters but not memoized.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next token. Calls are linearizable: each call returns a
// unique, increasing value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last token handed out without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
