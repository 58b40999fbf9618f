package agent

import (
	"errors"
	"fmt"
)

// ErrCancelled terminates a run when the cancellation check or the
// context reports cancellation before new work starts.
var ErrCancelled = errors.New("run cancelled")

// ModelRequestError is a terminal failure of an upstream model call. It
// is never produced for tool failures, which are recovered inside the
// executor.
type ModelRequestError struct {
	Provider string
	Err      error
}

func (e *ModelRequestError) Error() string {
	return fmt.Sprintf("model request to %s failed: %v", e.Provider, e.Err)
}

func (e *ModelRequestError) Unwrap() error { return e.Err }

// MaxIterationsError reports that a run stopped because it reached the
// configured iteration limit. It is distinct from a generic failure so
// callers can raise the limit and resume.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("run reached the maximum of %d iterations", e.Limit)
}

// SerializationError reports a context snapshot that could not be
// restored: an unknown version or corrupt payload.
type SerializationError struct {
	Version int
	Err     error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot restore context snapshot: %v", e.Err)
	}
	return fmt.Sprintf("cannot restore context snapshot: unsupported version %d", e.Version)
}

func (e *SerializationError) Unwrap() error { return e.Err }
