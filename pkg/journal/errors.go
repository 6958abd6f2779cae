package journal

import "errors"

var (
	// ErrTruncated indicates a record's payload was cut short, either
	// because the journal file ends mid-write or because it was
	// corrupted.
	ErrTruncated = errors.New("journal: truncated record")

	// ErrCorrupted indicates a record's checksum didn't match.
	ErrCorrupted = errors.New("journal: corrupted record")

	// ErrClosed indicates an operation on an already-closed journal.
	ErrClosed = errors.New("journal: closed")
)
