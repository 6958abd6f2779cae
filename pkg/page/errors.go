package page

import "errors"

// ErrVolumeFull is returned by Allocate when a volume has reached its
// configured maximum page count, rather than growing without bound.
var ErrVolumeFull = errors.New("page: volume full")

// ErrCorruptPage is returned by ReadPage when a page's stored checksum
// doesn't match its contents.
var ErrCorruptPage = errors.New("page: checksum mismatch")

// ErrInvalidPageAddress is returned by ReadPage when the requested ID
// doesn't correspond to any page the volume has ever allocated.
var ErrInvalidPageAddress = errors.New("page: invalid page address")

// ErrReadOnly is returned by Allocate, and is the value Put panics
// with, when the volume was opened with ReadOnly set.
var ErrReadOnly = errors.New("page: volume is read-only")
