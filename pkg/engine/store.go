package engine

import (
	"time"

	"github.com/nainya/persistit/pkg/buffer"
	"github.com/nainya/persistit/pkg/journal"
	"github.com/nainya/persistit/pkg/page"
)

// store binds one volume's pages to the shared buffer pool and wires
// the resulting get/new/set/del functions into a btree.BTree via
// SetCallbacks. The tree only ever sees a page's Body() (the region
// after the checksum trailer); store is what translates between that
// logical node size and the volume's physical page size. Every page a
// tree operation allocates or overwrites is also appended to the
// journal as a PA record before the handle is unpinned, so a page the
// buffer pool later evicts (and so writes through to the volume) can
// never reach disk ahead of the journal record that would let
// recovery reconstruct it.
type store struct {
	vol        *page.Volume
	pool       *buffer.Pool
	jrnl       *journal.Journal
	vid        journal.VolumeID
	physicalSz int
	txn        uint64 // current writer's transaction id, for PA tagging
}

func newStore(vol *page.Volume, pool *buffer.Pool, jrnl *journal.Journal, vid journal.VolumeID, physicalSize int) *store {
	return &store{vol: vol, pool: pool, jrnl: jrnl, vid: vid, physicalSz: physicalSize}
}

func (s *store) get(ptr uint64) []byte {
	h, err := s.pool.PinShared(s.vol, page.ID(ptr), latchTimeout)
	if err != nil {
		panic(err)
	}
	defer h.Unpin()
	return append([]byte(nil), h.Page().Body()...)
}

func (s *store) new(body []byte) uint64 {
	pg := page.NewPage(s.physicalSz)
	copy(pg.Body(), body)
	h, id, err := s.pool.Allocate(s.vol, pg)
	if err != nil {
		panic(err)
	}
	defer h.Unpin()
	s.journalPage(id, h.Page())
	return uint64(id)
}

func (s *store) set(ptr uint64, body []byte) {
	h, err := s.pool.PinExclusive(s.vol, page.ID(ptr), latchTimeout)
	if err != nil {
		panic(err)
	}
	defer h.Unpin()
	copy(h.Page().Body(), body)
	h.MarkDirty()
	s.journalPage(page.ID(ptr), h.Page())
}

func (s *store) del(ptr uint64) {
	s.pool.Invalidate(s.vol, page.ID(ptr))
	s.vol.Free(page.ID(ptr))
}

func (s *store) journalPage(id page.ID, body page.Page) {
	if s.jrnl == nil {
		return
	}
	rec := &journal.Record{
		LSN:  s.jrnl.NextLSN(),
		Type: journal.RecPageImage,
		Payload: journal.EncodePageImage(journal.PageImagePayload{
			VolumeID: s.vid,
			PageID:   uint64(id),
			TxnID:    s.txn,
			Body:     append([]byte(nil), body.Body()...),
		}),
	}
	if err := s.jrnl.Append(rec); err != nil {
		panic(IO(err))
	}
}

// latchTimeout bounds how long a page latch wait blocks before the
// store gives up rather than relying on PinShared/PinExclusive's own
// DefaultLatchTimeout implicitly everywhere it's called.
var latchTimeout = 5 * time.Second
