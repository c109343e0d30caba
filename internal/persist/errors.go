package persist

import "errors"

var (
	// ErrMissingChunk means the metadata names a chunk the store lacks.
	ErrMissingChunk = errors.New("missing chunk")
	// ErrLengthMismatch means the joined chunks differ from the recorded length.
	ErrLengthMismatch = errors.New("encoded length mismatch")
)

// Error is a persistence failure. Op is one of encode, write, cleanup, read
// or decode.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "persist " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
