package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/nainya/persistit/pkg/page"
)

// frame is one slot in the buffer pool: a cached page plus the state the
// CLOCK algorithm and the latch protocol need to manage it.
type frame struct {
	mu sync.RWMutex // content latch: RLock for shared, Lock for exclusive

	volume *page.Volume
	id     page.ID
	body   page.Page

	pinCount int32 // atomic; a pinned frame is never chosen as a CLOCK victim
	clockBit int32 // atomic 0/1; CLOCK "recently used" flag
	dirty    int32 // atomic 0/1; needs write-back before reuse
}

func (f *frame) pin() {
	atomic.AddInt32(&f.pinCount, 1)
	atomic.StoreInt32(&f.clockBit, 1)
}

func (f *frame) unpin() {
	if atomic.AddInt32(&f.pinCount, -1) < 0 {
		panic("buffer: unpin of unpinned frame")
	}
}

func (f *frame) isPinned() bool {
	return atomic.LoadInt32(&f.pinCount) > 0
}

// testAndClearClock reports whether the CLOCK "recently used" bit was
// set, clearing it in the same step.
func (f *frame) testAndClearClock() bool {
	return atomic.SwapInt32(&f.clockBit, 0) == 1
}

func (f *frame) markDirty() {
	atomic.StoreInt32(&f.dirty, 1)
}

func (f *frame) isDirty() bool {
	return atomic.LoadInt32(&f.dirty) == 1
}

func (f *frame) clearDirty() {
	atomic.StoreInt32(&f.dirty, 0)
}
