// ABOUTME: B+Tree node structure and manipulation functions
// ABOUTME: Copy-on-write pages with restart-point prefix compression

package btree

import (
	"bytes"
	"encoding/binary"
)

const (
	BNODE_NODE = 1 // internal nodes: pointers + separator keys, no values
	BNODE_LEAF = 2 // leaf nodes: keys with values
	BNODE_LONG = 3 // overflow page: a fragment of one long value
)

const (
	HEADER             = 4
	BTREE_MAX_KEY_SIZE = 1000
	BTREE_MAX_VAL_SIZE = 3000

	// restartInterval bounds how many consecutive keys can share a
	// common prefix with their predecessor before the next key is
	// stored in full again. It caps the cost of reconstructing any one
	// key, and gives nodeLookupLE a set of full keys to binary-search
	// over before falling back to a short linear scan — the same
	// restart-point scheme block-based key encoders use to reconcile
	// prefix compression with random access.
	restartInterval = 8
)

// BNode represents a B+Tree node as a byte slice.
type BNode []byte

func (node BNode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node BNode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node BNode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

func (node BNode) getPtr(idx uint16) uint64 {
	if idx >= node.nkeys() {
		panic("btree: index out of range")
	}
	pos := HEADER + 8*idx
	return binary.LittleEndian.Uint64(node[pos:])
}

func (node BNode) setPtr(idx uint16, val uint64) {
	if idx >= node.nkeys() {
		panic("btree: index out of range")
	}
	pos := HEADER + 8*idx
	binary.LittleEndian.PutUint64(node[pos:], val)
}

func offsetPos(node BNode, idx uint16) uint16 {
	if idx < 1 || idx > node.nkeys() {
		panic("btree: index out of range")
	}
	return HEADER + 8*node.nkeys() + 2*(idx-1)
}

func (node BNode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(node[offsetPos(node, idx):])
}

func (node BNode) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(node[offsetPos(node, idx):], offset)
}

func (node BNode) kvPos(idx uint16) uint16 {
	if idx > node.nkeys() {
		panic("btree: index out of range")
	}
	return HEADER + 8*node.nkeys() + 2*node.nkeys() + node.getOffset(idx)
}

// entry layout at kvPos(idx): ebc(2) klen(2) vlen(2) suffix(klen) val(vlen)
// ebc is the number of leading bytes this key shares with key(idx-1);
// it is always 0 at idx 0 and at every multiple of restartInterval.

func (node BNode) rawEntry(idx uint16) (suffix, val []byte) {
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos+2:])
	vlen := binary.LittleEndian.Uint16(node[pos+4:])
	suffix = node[pos+6:][:klen]
	val = node[pos+6+klen:][:vlen]
	return suffix, val
}

func (node BNode) ebc(idx uint16) uint16 {
	pos := node.kvPos(idx)
	return binary.LittleEndian.Uint16(node[pos:])
}

// getKey reconstructs the full key at idx from the nearest preceding
// restart point, an O(restartInterval) walk independent of node size.
func (node BNode) getKey(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("btree: index out of range")
	}
	restart := idx - idx%restartInterval
	full, _ := node.rawEntry(restart)
	key := append([]byte(nil), full...)
	for i := restart + 1; i <= idx; i++ {
		ebc := node.ebc(i)
		suffix, _ := node.rawEntry(i)
		key = append(key[:ebc], suffix...)
	}
	return key
}

func (node BNode) getVal(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("btree: index out of range")
	}
	_, val := node.rawEntry(idx)
	return val
}

func (node BNode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

func commonPrefixLen(a, b []byte) uint16 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return uint16(i)
}

// nodeLookupLE returns the largest index whose key is <= the target,
// via a binary search over restart-point keys (each stored in full)
// followed by a short linear scan inside the matching block.
func nodeLookupLE(node BNode, key []byte) uint16 {
	nkeys := node.nkeys()
	if nkeys == 0 {
		return 0
	}

	numRestarts := int((nkeys + restartInterval - 1) / restartInterval)
	lo, hi := 0, numRestarts-1
	block := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		idx := uint16(mid * restartInterval)
		full, _ := node.rawEntry(idx)
		if bytes.Compare(full, key) <= 0 {
			block = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	start := uint16(block * restartInterval)
	end := start + restartInterval
	if end > nkeys {
		end = nkeys
	}

	found := start
	for i := start; i < end; i++ {
		cmp := bytes.Compare(node.getKey(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

// nodeAppendRange copies a range of KVs from old to new, re-encoding
// each entry's prefix compression relative to new's own restart
// alignment (which may differ from old's once a range is split across
// a page boundary).
func nodeAppendRange(new BNode, old BNode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() {
		panic("btree: source range out of bounds")
	}
	if dstNew+n > new.nkeys() {
		panic("btree: destination range out of bounds")
	}
	for i := uint16(0); i < n; i++ {
		srcIdx := srcOld + i
		dstIdx := dstNew + i
		var ptr uint64
		if old.btype() == BNODE_NODE {
			ptr = old.getPtr(srcIdx)
		}
		nodeAppendKV(new, dstIdx, ptr, old.getKey(srcIdx), old.getVal(srcIdx))
	}
}

// nodeAppendKV appends a single KV to the node at idx, which must be
// the next unwritten slot (entries are always appended in increasing
// index order within one construction).
func nodeAppendKV(new BNode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setPtr(idx, ptr)

	var ebc uint16
	var suffix []byte
	if idx == 0 || idx%restartInterval == 0 {
		ebc = 0
		suffix = key
	} else {
		prev := new.getKey(idx - 1)
		ebc = commonPrefixLen(prev, key)
		suffix = key[ebc:]
	}

	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos:], ebc)
	binary.LittleEndian.PutUint16(new[pos+2:], uint16(len(suffix)))
	binary.LittleEndian.PutUint16(new[pos+4:], uint16(len(val)))
	copy(new[pos+6:], suffix)
	copy(new[pos+6+uint16(len(suffix)):], val)

	new.setOffset(idx+1, new.getOffset(idx)+6+uint16(len(suffix))+uint16(len(val)))
}

// setPtr on BNODE_LEAF nodes is a no-op write into unused pointer
// space reserved for internal nodes; keeping the call unconditional in
// nodeAppendKV avoids branching on node type at every append site and
// costs nothing since leaf nodes never read it back.
