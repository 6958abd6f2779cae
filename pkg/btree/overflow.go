package btree

import "encoding/binary"

// Every value stored in a leaf carries a one-byte tag so a value too
// large to fit inline can be redirected to a chain of BNODE_LONG
// overflow pages without node.go having to know anything about it.
const (
	valInline  = 0
	valOverflow = 1

	overflowHeaderSize = 8 + 4 // next ptr + bytes used in this page
)

// maxInline is the largest value, including its tag byte, the tree
// will store directly in a leaf entry. Anything bigger spills to an
// overflow chain so a single large value can never force a page split
// cascade by itself.
func maxInline(pageSize int) int {
	return pageSize / 4
}

func wrapInline(val []byte) []byte {
	out := make([]byte, len(val)+1)
	out[0] = valInline
	copy(out[1:], val)
	return out
}

func wrapOverflow(ptr uint64, total int) []byte {
	out := make([]byte, 13)
	out[0] = valOverflow
	binary.LittleEndian.PutUint64(out[1:9], ptr)
	binary.LittleEndian.PutUint32(out[9:13], uint32(total))
	return out
}

// unwrapVal resolves a tagged value stored in a leaf, following an
// overflow chain if necessary.
func unwrapVal(tree *BTree, stored []byte) []byte {
	if len(stored) == 0 {
		return stored
	}
	switch stored[0] {
	case valOverflow:
		ptr := binary.LittleEndian.Uint64(stored[1:9])
		total := int(binary.LittleEndian.Uint32(stored[9:13]))
		return readOverflowChain(tree, ptr, total)
	default:
		return stored[1:]
	}
}

// wrapVal tags val for storage, spilling to an overflow chain when it
// would not fit inline.
func wrapVal(tree *BTree, val []byte) []byte {
	if len(val)+1 <= maxInline(tree.PageSize) {
		return wrapInline(val)
	}
	ptr := writeOverflowChain(tree, val)
	return wrapOverflow(ptr, len(val))
}

// freeVal releases any overflow chain a stored value points to.
func freeVal(tree *BTree, stored []byte) {
	if len(stored) > 0 && stored[0] == valOverflow {
		ptr := binary.LittleEndian.Uint64(stored[1:9])
		freeOverflowChain(tree, ptr)
	}
}

func overflowCap(pageSize int) int {
	return pageSize - HEADER - overflowHeaderSize
}

func writeOverflowChain(tree *BTree, val []byte) uint64 {
	chunkCap := overflowCap(tree.PageSize)
	var head uint64
	var prevPage []byte
	var prevPtr uint64

	pos := 0
	for pos < len(val) {
		n := len(val) - pos
		if n > chunkCap {
			n = chunkCap
		}
		page := make([]byte, tree.PageSize)
		BNode(page).setHeader(BNODE_LONG, 0)
		copy(page[HEADER+overflowHeaderSize:], val[pos:pos+n])
		binary.LittleEndian.PutUint32(page[HEADER+8:], uint32(n))
		ptr := tree.new(page)

		if prevPage != nil {
			binary.LittleEndian.PutUint64(prevPage[HEADER:], ptr)
			tree.set(prevPtr, prevPage)
		} else {
			head = ptr
		}
		prevPage, prevPtr = page, ptr
		pos += n
	}
	if prevPage != nil {
		binary.LittleEndian.PutUint64(prevPage[HEADER:], 0)
		tree.set(prevPtr, prevPage)
	}
	return head
}

func readOverflowChain(tree *BTree, ptr uint64, total int) []byte {
	out := make([]byte, 0, total)
	for ptr != 0 {
		page := tree.get(ptr)
		n := binary.LittleEndian.Uint32(page[HEADER+8:])
		out = append(out, page[HEADER+overflowHeaderSize:][:n]...)
		ptr = binary.LittleEndian.Uint64(page[HEADER:])
	}
	return out
}

func freeOverflowChain(tree *BTree, ptr uint64) {
	for ptr != 0 {
		page := tree.get(ptr)
		next := binary.LittleEndian.Uint64(page[HEADER:])
		tree.del(ptr)
		ptr = next
	}
}
