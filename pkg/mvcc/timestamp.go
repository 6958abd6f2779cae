package mvcc

import "sync/atomic"

// Clock hands out monotonically increasing logical timestamps used
// both as transaction start snapshots and as commit timestamps. A
// single CAS-guarded counter is all a single-process embedded engine
// needs; there's no wall-clock or cross-node skew to reconcile.
type Clock struct {
	counter uint64
}

// Next returns a new timestamp strictly greater than every timestamp
// this clock has returned before.
func (c *Clock) Next() uint64 {
	return atomic.AddUint64(&c.counter, 1)
}

// Current returns the last timestamp handed out without allocating a
// new one, used to stamp a read-only snapshot's upper bound.
func (c *Clock) Current() uint64 {
	return atomic.LoadUint64(&c.counter)
}
