package page

import "encoding/binary"

// garbageHeader is the size, within a garbage-chain page's body, of the
// "next node" pointer that precedes the slot array.
const garbageHeader = 8

// garbageNode views a page body as one node of the garbage chain: an
// unrolled linked list of reclaimable page IDs.
type garbageNode []byte

func (n garbageNode) getNext() ID {
	return ID(binary.LittleEndian.Uint64(n[0:8]))
}

func (n garbageNode) setNext(next ID) {
	binary.LittleEndian.PutUint64(n[0:8], uint64(next))
}

func (n garbageNode) getPtr(idx int) ID {
	off := garbageHeader + idx*8
	return ID(binary.LittleEndian.Uint64(n[off:]))
}

func (n garbageNode) setPtr(idx int, ptr ID) {
	off := garbageHeader + idx*8
	binary.LittleEndian.PutUint64(n[off:], uint64(ptr))
}

// GarbageChain tracks pages freed by tree mutations so they can be
// reused by later allocations instead of growing the volume. It is an
// unrolled linked list of page IDs, adapted directly from the teacher's
// page-recycling free list: a head cursor pages are popped from, a tail
// cursor they are pushed onto, and a maxSeq watermark that freezes the
// chain for the duration of an in-flight transaction so pages it just
// freed cannot be handed back out before the transaction is durable.
type GarbageChain struct {
	pageSize int

	get    func(ID) Page
	append func(Page) ID
	set    func(ID, Page)

	HeadPage ID
	HeadSeq  uint64
	TailPage ID
	TailSeq  uint64
	MaxSeq   uint64
}

// Bind wires the chain to the page-storage callbacks. get must return
// the current contents of a page; appendNew must durably allocate a new
// page at the end of the volume and return its ID; set must overwrite
// an existing page in place.
func (g *GarbageChain) Bind(pageSize int, get func(ID) Page, appendNew func(Page) ID, set func(ID, Page)) {
	g.pageSize = pageSize
	g.get = get
	g.append = appendNew
	g.set = set
}

func (g *GarbageChain) cap() int {
	return (g.pageSize - ChecksumSize - garbageHeader) / 8
}

// Len returns the number of pages currently reclaimable.
func (g *GarbageChain) Len() int {
	if g.HeadSeq >= g.TailSeq {
		return 0
	}
	return int(g.TailSeq - g.HeadSeq)
}

// Pop removes and returns a reusable page, or 0 if the chain is empty or
// the only reusable entries were frozen by Freeze.
func (g *GarbageChain) Pop() ID {
	if g.HeadSeq >= g.TailSeq {
		return 0
	}
	if g.MaxSeq > 0 && g.MaxSeq < g.TailSeq && g.HeadSeq >= g.MaxSeq {
		return 0
	}
	if g.HeadPage == 0 {
		return 0
	}

	node := garbageNode(g.get(g.HeadPage).Body())
	idx := int(g.HeadSeq % uint64(g.cap()))
	ptr := node.getPtr(idx)
	g.HeadSeq++

	if g.HeadSeq%uint64(g.cap()) == 0 {
		next := node.getNext()
		if next != 0 {
			g.Push(g.HeadPage)
			g.HeadPage = next
		}
	}
	return ptr
}

// Push adds a page to the chain for later reuse.
func (g *GarbageChain) Push(ptr ID) {
	if g.TailPage == 0 {
		body := NewPage(g.pageSize)
		node := garbageNode(body.Body())
		node.setNext(0)
		body.Stamp()
		g.TailPage = g.append(body)
		g.HeadPage = g.TailPage
	}

	idx := int(g.TailSeq % uint64(g.cap()))
	if idx == 0 && g.TailSeq > 0 {
		newBody := NewPage(g.pageSize)
		newNode := garbageNode(newBody.Body())
		newNode.setNext(0)
		newBody.Stamp()
		newTail := g.append(newBody)

		oldBody := g.get(g.TailPage).Clone()
		garbageNode(oldBody.Body()).setNext(newTail)
		oldBody.Stamp()
		g.set(g.TailPage, oldBody)

		g.TailPage = newTail
		idx = 0
	}

	body := g.get(g.TailPage).Clone()
	garbageNode(body.Body()).setPtr(idx, ptr)
	body.Stamp()
	g.set(g.TailPage, body)
	g.TailSeq++
}

// Freeze sets the watermark at the current tail: pages already in the
// chain stay poppable, and pages pushed after this call cannot be
// popped until Release moves the watermark past them. A watermark of 0
// (Freeze on a chain never pushed to) blocks nothing.
func (g *GarbageChain) Freeze() {
	g.MaxSeq = g.TailSeq
}

// Release lets every page pushed so far (including this transaction's)
// be reused, called once the freeing transaction is durable.
func (g *GarbageChain) Release() {
	g.MaxSeq = g.TailSeq
}

// Rollback restores the watermark saved before a failed transaction.
func (g *GarbageChain) Rollback(savedMaxSeq uint64) {
	g.MaxSeq = savedMaxSeq
}

const garbageStateSize = 40

// Marshal serializes the chain's cursors for storage in the head page.
func (g *GarbageChain) Marshal() []byte {
	buf := make([]byte, garbageStateSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(g.HeadPage))
	binary.LittleEndian.PutUint64(buf[8:], g.HeadSeq)
	binary.LittleEndian.PutUint64(buf[16:], uint64(g.TailPage))
	binary.LittleEndian.PutUint64(buf[24:], g.TailSeq)
	binary.LittleEndian.PutUint64(buf[32:], g.MaxSeq)
	return buf
}

// Unmarshal restores cursors previously written by Marshal.
func (g *GarbageChain) Unmarshal(buf []byte) {
	g.HeadPage = ID(binary.LittleEndian.Uint64(buf[0:]))
	g.HeadSeq = binary.LittleEndian.Uint64(buf[8:])
	g.TailPage = ID(binary.LittleEndian.Uint64(buf[16:]))
	g.TailSeq = binary.LittleEndian.Uint64(buf[24:])
	g.MaxSeq = binary.LittleEndian.Uint64(buf[32:])
}
