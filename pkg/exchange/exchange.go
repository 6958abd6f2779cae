package exchange

import (
	"bytes"

	"github.com/nainya/persistit/pkg/btree"
)

// Exchange is a cursor over one tree: it holds a current key (built up
// with Append/Cut/To) and a value buffer, and moves through the tree
// with Next/Previous/Traverse, mirroring the append/clear/cut/to/
// store/fetch/remove/traverse vocabulary of the system this engine is
// modeled on while sitting on the btree/iterator machinery the teacher
// built for range scans.
type Exchange struct {
	tree   *btree.BTree
	filter *KeyFilter
	key    Key
	value  []byte
}

func New(tree *btree.BTree) *Exchange {
	return &Exchange{tree: tree}
}

// Clear resets the current key to empty.
func (e *Exchange) Clear() { e.key = e.key[:0] }

// Append extends the current key with additional segments, failing
// ErrKeyTooLong if the result would exceed MaxKeyLength.
func (e *Exchange) Append(segments ...Segment) error {
	suffix, err := Append(segments...)
	if err != nil {
		return err
	}
	e.key = append(e.key, suffix...)
	return nil
}

// Cut truncates the current key to n leading bytes, used to "pop"
// trailing segments off without recomputing the whole key.
func (e *Exchange) Cut(n int) {
	if n < len(e.key) {
		e.key = e.key[:n]
	}
}

// To replaces the current key outright.
func (e *Exchange) To(key Key) { e.key = append(Key(nil), key...) }

// Key returns a copy of the current key.
func (e *Exchange) Key() Key { return append(Key(nil), e.key...) }

// SetFilter installs a KeyFilter that Next/Previous/Traverse
// calls will respect.
func (e *Exchange) SetFilter(f *KeyFilter) { e.filter = f }

// Store writes value under the current key, reporting a KeyTooLong-style
// error from the underlying tree without panicking.
func (e *Exchange) Store(value []byte) error {
	return e.tree.Insert(e.key, value)
}

// Fetch loads the value stored at the current key, reporting whether
// it exists.
func (e *Exchange) Fetch() ([]byte, bool) {
	v, ok := e.tree.Get(e.key)
	if ok {
		e.value = v
	}
	return v, ok
}

// Remove deletes the value at the current key.
func (e *Exchange) Remove() bool {
	return e.tree.Delete(e.key)
}

// RemoveRange deletes every key in [from, to).
func (e *Exchange) RemoveRange(from, to Key) int {
	var toDelete []Key
	e.tree.Scan(from, func(k, _ []byte) bool {
		if len(to) > 0 && bytes.Compare(k, to) >= 0 {
			return false
		}
		toDelete = append(toDelete, append(Key(nil), k...))
		return true
	})
	for _, k := range toDelete {
		e.tree.Delete(k)
	}
	return len(toDelete)
}

// Next moves the cursor to the next key matching the filter (if any),
// returning false once traversal is exhausted.
func (e *Exchange) Next() bool {
	return e.step(Forward)
}

// Previous moves the cursor to the preceding key matching the filter.
func (e *Exchange) Previous() bool {
	return e.step(Reverse)
}

func (e *Exchange) step(dir Direction) bool {
	iter := e.tree.NewIterator()
	// The cursor's own key is stepped past; a filter jump target is not,
	// since it may itself be the first accepted key.
	jumped := false
	for {
		var ok bool
		if dir == Forward {
			ok = iter.SeekGE(e.key)
			if ok && !jumped && bytes.Compare(iter.Key(), e.key) == 0 {
				ok = iter.Next()
			}
		} else {
			ok = iter.SeekLE(e.key)
			if ok && !jumped && bytes.Compare(iter.Key(), e.key) >= 0 {
				ok = iter.Previous()
			}
		}
		// The tree's sentinel empty key is not a stored entry.
		if !ok || len(iter.Key()) == 0 {
			return false
		}

		candidate := Key(iter.Key())
		next, reachable := e.filter.Next(candidate, dir)
		if !reachable {
			return false
		}
		if bytes.Compare(next, candidate) == 0 {
			e.key = candidate
			e.value = iter.Val()
			return true
		}
		e.key = next
		jumped = true
	}
}

// Traverse calls fn for every key from the current position onward
// (or backward, if dir is Reverse) until fn returns false or the
// traversal is exhausted.
func (e *Exchange) Traverse(dir Direction, fn func(key Key, value []byte) bool) {
	for {
		var ok bool
		if dir == Forward {
			ok = e.Next()
		} else {
			ok = e.Previous()
		}
		if !ok {
			return
		}
		if !fn(e.Key(), e.value) {
			return
		}
	}
}
