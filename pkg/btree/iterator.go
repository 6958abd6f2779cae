// ABOUTME: B+Tree iterator for range scans
// ABOUTME: Implements SeekLE/SeekGE and forward/reverse traversal

package btree

import "bytes"

// BIter is a cursor over a tree's leaves, used both for ad-hoc Scan
// calls and as the low-level engine an Exchange traversal sits on top
// of. It holds a root-to-leaf path so Next/Previous can backtrack
// without re-descending from the root.
type BIter struct {
	tree *BTree
	path []BNode  // Stack of nodes from root to current leaf
	pos  []uint16 // Stack of positions at each level
}

// NewIterator creates a new iterator for the tree
func (tree *BTree) NewIterator() *BIter {
	return &BIter{
		tree: tree,
		path: make([]BNode, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// SeekLE positions the iterator at the last key <= the given key.
// Returns false if the tree is empty.
func (iter *BIter) SeekLE(key []byte) bool {
	return iter.seek(key)
}

// SeekGE positions the iterator at the first key >= the given key,
// advancing past SeekLE's result if it landed strictly below key.
func (iter *BIter) SeekGE(key []byte) bool {
	if !iter.seek(key) {
		return iter.First()
	}
	if bytes.Compare(iter.Key(), key) < 0 {
		return iter.Next()
	}
	return true
}

func (iter *BIter) seek(key []byte) bool {
	iter.path = iter.path[:0]
	iter.pos = iter.pos[:0]

	if iter.tree.root == 0 {
		return false
	}

	node := BNode(iter.tree.get(iter.tree.root))
	for {
		iter.path = append(iter.path, node)
		idx := nodeLookupLE(node, key)
		iter.pos = append(iter.pos, idx)

		if node.btype() == BNODE_LEAF {
			break
		}

		ptr := node.getPtr(idx)
		node = BNode(iter.tree.get(ptr))
	}

	return true
}

// First positions the iterator at the tree's smallest key.
func (iter *BIter) First() bool {
	iter.path = iter.path[:0]
	iter.pos = iter.pos[:0]
	if iter.tree.root == 0 {
		return false
	}
	iter.path = append(iter.path, BNode(iter.tree.get(iter.tree.root)))
	iter.pos = append(iter.pos, 0)
	for iter.path[len(iter.path)-1].btype() != BNODE_LEAF {
		parent := iter.path[len(iter.path)-1]
		child := BNode(iter.tree.get(parent.getPtr(0)))
		iter.path = append(iter.path, child)
		iter.pos = append(iter.pos, 0)
	}
	return iter.path[len(iter.path)-1].nkeys() > 0
}

// Last positions the iterator at the tree's largest key.
func (iter *BIter) Last() bool {
	iter.path = iter.path[:0]
	iter.pos = iter.pos[:0]
	if iter.tree.root == 0 {
		return false
	}
	node := BNode(iter.tree.get(iter.tree.root))
	for {
		iter.path = append(iter.path, node)
		last := uint16(0)
		if node.nkeys() > 0 {
			last = node.nkeys() - 1
		}
		iter.pos = append(iter.pos, last)
		if node.btype() == BNODE_LEAF {
			break
		}
		node = BNode(iter.tree.get(node.getPtr(last)))
	}
	return iter.path[len(iter.path)-1].nkeys() > 0
}

// Valid returns true if the iterator is positioned at a valid key
func (iter *BIter) Valid() bool {
	if len(iter.path) == 0 {
		return false
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return pos < leaf.nkeys()
}

// Key returns the current key
func (iter *BIter) Key() []byte {
	if !iter.Valid() {
		return nil
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return leaf.getKey(pos)
}

// Val returns the current value, transparently resolving an overflow
// chain if the value spilled out of its leaf entry.
func (iter *BIter) Val() []byte {
	if !iter.Valid() {
		return nil
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return unwrapVal(iter.tree, leaf.getVal(pos))
}

// Next advances the iterator to the next key.
// Returns false if there are no more keys.
func (iter *BIter) Next() bool {
	if len(iter.path) == 0 {
		return false
	}

	leafIdx := len(iter.pos) - 1
	iter.pos[leafIdx]++

	leaf := iter.path[leafIdx]
	if iter.pos[leafIdx] < leaf.nkeys() {
		return true
	}

	iter.path = iter.path[:leafIdx]
	iter.pos = iter.pos[:leafIdx]

	for len(iter.pos) > 0 {
		parentIdx := len(iter.pos) - 1
		iter.pos[parentIdx]++

		parent := iter.path[parentIdx]
		if iter.pos[parentIdx] < parent.nkeys() {
			return iter.descendToLeftmost()
		}

		iter.path = iter.path[:parentIdx]
		iter.pos = iter.pos[:parentIdx]
	}

	return false
}

// Previous retreats the iterator to the preceding key.
// Returns false if already at the first key.
func (iter *BIter) Previous() bool {
	if len(iter.path) == 0 {
		return false
	}

	leafIdx := len(iter.pos) - 1
	if iter.pos[leafIdx] > 0 {
		iter.pos[leafIdx]--
		return true
	}

	iter.path = iter.path[:leafIdx]
	iter.pos = iter.pos[:leafIdx]

	for len(iter.pos) > 0 {
		parentIdx := len(iter.pos) - 1
		if iter.pos[parentIdx] > 0 {
			iter.pos[parentIdx]--
			return iter.descendToRightmost()
		}

		iter.path = iter.path[:parentIdx]
		iter.pos = iter.pos[:parentIdx]
	}

	return false
}

func (iter *BIter) descendToLeftmost() bool {
	for {
		parentIdx := len(iter.path) - 1
		parent := iter.path[parentIdx]
		pos := iter.pos[parentIdx]

		ptr := parent.getPtr(pos)
		child := BNode(iter.tree.get(ptr))
		iter.path = append(iter.path, child)

		if child.btype() == BNODE_LEAF {
			iter.pos = append(iter.pos, 0)
			return true
		}
		iter.pos = append(iter.pos, 0)
	}
}

func (iter *BIter) descendToRightmost() bool {
	for {
		parentIdx := len(iter.path) - 1
		parent := iter.path[parentIdx]
		pos := iter.pos[parentIdx]

		ptr := parent.getPtr(pos)
		child := BNode(iter.tree.get(ptr))
		iter.path = append(iter.path, child)

		last := uint16(0)
		if child.nkeys() > 0 {
			last = child.nkeys() - 1
		}
		iter.pos = append(iter.pos, last)

		if child.btype() == BNODE_LEAF {
			return true
		}
	}
}

// Scan executes a forward range scan from the given start key,
// invoking callback for each pair until it returns false.
func (tree *BTree) Scan(start []byte, callback func(key, val []byte) bool) {
	iter := tree.NewIterator()
	if !iter.SeekLE(start) {
		return
	}

	if bytes.Compare(iter.Key(), start) < 0 {
		if !iter.Next() {
			return
		}
	}

	for iter.Valid() {
		if !callback(iter.Key(), iter.Val()) {
			return
		}
		if !iter.Next() {
			return
		}
	}
}
