package btree

import "errors"

// ErrKeyTooLarge is returned by Insert when key exceeds
// BTREE_MAX_KEY_SIZE, rather than panicking: an over-length key is a
// documented failure a caller can recover from (reject the write),
// not an invariant violation.
var ErrKeyTooLarge = errors.New("btree: key too large")
