// Package buffer implements the fixed-size page cache that sits between
// the B+-Tree and a volume's durable storage: CLOCK-style eviction,
// shared/exclusive latching per page, and dirty tracking for write-back.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/nainya/persistit/pkg/page"
)

// ErrTimeout is returned when a latch cannot be acquired before the
// caller's deadline, grounding the "latch contention timeout" case in
// the concurrency model.
var ErrTimeout = errors.New("buffer: latch acquisition timed out")

// DefaultLatchTimeout bounds how long Pin waits for a contended latch
// before giving up, when the caller doesn't pass its own timeout.
const DefaultLatchTimeout = 5 * time.Second

type key struct {
	vol *page.Volume
	id  page.ID
}

// Handle is a pinned, latched reference to a cached page. Callers must
// call Unpin exactly once to release it.
type Handle struct {
	pool  *Pool
	idx   int
	excl  bool
}

// Page returns the cached page body. Holders of a shared handle must
// not mutate it; holders of an exclusive handle that mutate it must
// call MarkDirty before Unpin.
func (h *Handle) Page() page.Page {
	return h.pool.frames[h.idx].body
}

// MarkDirty flags the page as needing write-back before its frame can
// be reused for something else.
func (h *Handle) MarkDirty() {
	h.pool.frames[h.idx].markDirty()
}

// Unpin releases the handle.
func (h *Handle) Unpin() {
	f := h.pool.frames[h.idx]
	if h.excl {
		f.mu.Unlock()
	} else {
		f.mu.RUnlock()
	}
	f.unpin()
}

// Pool is a fixed-capacity set of frames shared across every volume
// opened by the engine, evicted with a CLOCK sweep and protected by a
// directory mutex separate from each frame's own content latch — the
// same split the corpus's buffer manager uses so that a long-held page
// latch never blocks an unrelated lookup.
type Pool struct {
	mu       sync.Mutex
	frames   []*frame
	index    map[key]int
	free     []int
	hand     int
	capacity int

	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// New creates a pool with room for capacity pages.
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		frames:   make([]*frame, capacity),
		index:    make(map[key]int, capacity),
		capacity: capacity,
	}
	for i := range p.frames {
		p.frames[i] = &frame{}
		p.free = append(p.free, i)
	}
	return p
}

// PinShared acquires a read latch on a page, loading it from the volume
// on a cache miss.
func (p *Pool) PinShared(vol *page.Volume, id page.ID, timeout time.Duration) (*Handle, error) {
	return p.pin(vol, id, false, timeout)
}

// PinExclusive acquires a write latch on a page.
func (p *Pool) PinExclusive(vol *page.Volume, id page.ID, timeout time.Duration) (*Handle, error) {
	return p.pin(vol, id, true, timeout)
}

func (p *Pool) pin(vol *page.Volume, id page.ID, exclusive bool, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultLatchTimeout
	}
	idx, err := p.resolve(vol, id, timeout)
	if err != nil {
		return nil, err
	}
	f := p.frames[idx]
	f.pin()

	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		if exclusive {
			locked = f.mu.TryLock()
		} else {
			locked = f.mu.TryRLock()
		}
		if locked {
			return &Handle{pool: p, idx: idx, excl: exclusive}, nil
		}
		if time.Now().After(deadline) {
			f.unpin()
			return nil, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// Allocate reserves a brand-new page in vol, seeds it with body, and
// returns an exclusively-latched, pinned handle plus its ID. The caller
// must Unpin (after MarkDirty, if further mutated) once done.
func (p *Pool) Allocate(vol *page.Volume, body page.Page) (*Handle, page.ID, error) {
	id, err := vol.Allocate(body.Clone())
	if err != nil {
		return nil, 0, err
	}

	p.mu.Lock()
	idx, evicted, err := p.claimFrame(time.Now().Add(DefaultLatchTimeout))
	if err != nil {
		p.mu.Unlock()
		return nil, 0, err
	}
	if evicted != nil {
		delete(p.index, *evicted)
	}
	p.index[key{vol, id}] = idx
	p.mu.Unlock()

	f := p.frames[idx]
	f.mu.Lock()
	f.volume = vol
	f.id = id
	f.body = body.Clone()
	f.pin()
	f.markDirty()
	return &Handle{pool: p, idx: idx, excl: true}, id, nil
}

// resolve returns the frame index caching (vol, id), loading it on a
// miss and running CLOCK eviction if the pool is full.
func (p *Pool) resolve(vol *page.Volume, id page.ID, timeout time.Duration) (int, error) {
	k := key{vol, id}

	p.mu.Lock()
	if idx, ok := p.index[k]; ok {
		p.Hits++
		p.mu.Unlock()
		return idx, nil
	}
	p.Misses++

	idx, evicted, err := p.claimFrame(time.Now().Add(timeout))
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	if evicted != nil {
		delete(p.index, *evicted)
	}
	p.index[k] = idx
	p.mu.Unlock()

	body, err := vol.ReadPage(id)
	if err != nil {
		p.mu.Lock()
		delete(p.index, k)
		p.free = append(p.free, idx)
		p.mu.Unlock()
		return 0, err
	}

	f := p.frames[idx]
	f.mu.Lock()
	f.volume = vol
	f.id = id
	f.body = body.Clone()
	f.clearDirty()
	f.mu.Unlock()
	return idx, nil
}

// claimFrame returns a frame index to populate: a free slot if one
// exists, otherwise a CLOCK-selected victim. Caller must hold p.mu.
// When every frame is pinned, the sweep cannot make progress; rather
// than spin forever holding the pool-wide directory mutex, claimFrame
// gives up at deadline and reports ErrTimeout so the caller can fail
// the pin instead of wedging the whole pool.
func (p *Pool) claimFrame(deadline time.Time) (int, *key, error) {
	if len(p.free) > 0 {
		idx := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		return idx, nil, nil
	}

	start := p.hand
	for {
		idx := p.hand
		p.hand = (p.hand + 1) % p.capacity
		f := p.frames[idx]

		if !f.isPinned() {
			if f.testAndClearClock() {
				// recently touched; give it another lap
			} else {
				if f.isDirty() {
					f.volume.Put(f.id, f.body)
				}
				p.Evictions++
				var oldKey *key
				for k, i := range p.index {
					if i == idx {
						kk := k
						oldKey = &kk
						break
					}
				}
				return idx, oldKey, nil
			}
		}

		if p.hand == start {
			if time.Now().After(deadline) {
				return 0, nil, ErrTimeout
			}
			// Every frame pinned or freshly touched: give everyone one
			// more lap with clock bits cleared so the sweep can make
			// progress instead of spinning forever.
			for _, fr := range p.frames {
				if !fr.isPinned() {
					fr.testAndClearClock()
				}
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// Invalidate drops a page's frame from the pool so the next pin
// re-reads it from its volume — used after recovery replaces a page
// image.
func (p *Pool) Invalidate(vol *page.Volume, id page.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key{vol, id}
	if idx, ok := p.index[k]; ok {
		delete(p.index, k)
		p.free = append(p.free, idx)
	}
}

// DirtyPages returns the (volume, id) of every currently dirty frame,
// pinned or not — the set the journal's copier drains on each sweep.
func (p *Pool) DirtyPages() []struct {
	Volume *page.Volume
	ID     page.ID
} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []struct {
		Volume *page.Volume
		ID     page.ID
	}
	for k, idx := range p.index {
		f := p.frames[idx]
		if f.isDirty() {
			out = append(out, struct {
				Volume *page.Volume
				ID     page.ID
			}{k.vol, k.id})
		}
	}
	return out
}

// WriteBack flushes one dirty frame to its volume's in-memory pending
// set (not yet fsynced) and clears its dirty bit.
func (p *Pool) WriteBack(vol *page.Volume, id page.ID) {
	p.mu.Lock()
	idx, ok := p.index[key{vol, id}]
	p.mu.Unlock()
	if !ok {
		return
	}
	f := p.frames[idx]
	f.mu.RLock()
	if f.isDirty() {
		vol.Put(id, f.body)
		f.clearDirty()
	}
	f.mu.RUnlock()
}
