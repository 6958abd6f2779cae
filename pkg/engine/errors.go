package engine

import "errors"

// ErrorKind classifies an engine-level failure the way the
// specification's error model requires, rather than leaving callers to
// pattern-match on error strings.
type ErrorKind int

const (
	KindCorruption ErrorKind = iota
	KindIO
	KindConflict
	KindRollback
	KindKeyTooLong
	KindTreeMissing
	KindVolumeFull
	KindTimeout
	KindInterrupted
	KindConfig
	KindReadOnly
)

// Error is the engine's unified error type: every operation that can
// fail returns either nil or an *Error, so callers never need to
// unwrap an arbitrary chain to find out what went wrong.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

var (
	ErrVolumeFull   = newError(KindVolumeFull, "engine: volume full", nil)
	ErrTreeMissing  = newError(KindTreeMissing, "engine: tree missing", nil)
	ErrKeyTooLong   = newError(KindKeyTooLong, "engine: key too long", nil)
	ErrInterrupted  = newError(KindInterrupted, "engine: interrupted", nil)
	errNotFound     = errors.New("engine: key not found")

	// ErrReadOnlyVolume is returned for any mutation attempted against a
	// volume opened with VolumeSpec.ReadOnly set.
	ErrReadOnlyVolume = newError(KindReadOnly, "engine: volume is read-only", nil)
	// ErrVolumeAlreadyExists is returned opening a volume whose spec set
	// CreateOnly against a path that already holds a volume file.
	ErrVolumeAlreadyExists = newError(KindConfig, "engine: volume already exists", nil)
	// ErrInvalidVolumeSpecification covers a VolumeSpec that can't open
	// any volume at all: Create is false and no file exists, or both
	// CreateOnly and ReadOnly are set (a contradiction).
	ErrInvalidVolumeSpecification = newError(KindConfig, "engine: invalid volume specification", nil)
	// ErrWrongVolume is returned when a VolumeSpec's ExpectedVolumeID
	// doesn't match the 128-bit id stamped into the volume's head page,
	// guarding against silently reopening the wrong physical file.
	ErrWrongVolume = newError(KindConfig, "engine: wrong volume", nil)
)

// Conflict reports a write-write conflict, retryable because the
// caller can simply begin a new transaction and try again.
func Conflict(cause error) *Error {
	return &Error{Kind: KindConflict, Message: "engine: transaction conflict", Retryable: true, Cause: cause}
}

func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Message: "engine: operation timed out", Retryable: true, Cause: cause}
}

func IO(cause error) *Error {
	return &Error{Kind: KindIO, Message: "engine: i/o error", Cause: cause}
}

func Corruption(cause error) *Error {
	return &Error{Kind: KindCorruption, Message: "engine: data corruption detected", Cause: cause}
}

// Rollback reports that a transaction could not be committed for a
// reason other than a write-write conflict (an aborted dependency, an
// explicit caller Rollback racing the commit) and was rolled back.
func Rollback(cause error) *Error {
	return &Error{Kind: KindRollback, Message: "engine: transaction rolled back", Cause: cause}
}

func Config(msg string) *Error {
	return &Error{Kind: KindConfig, Message: "engine: " + msg}
}
