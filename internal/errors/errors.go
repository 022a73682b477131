package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrQueueClosed       = errors.New("queue is closed")
	ErrInvalidHash       = errors.New("invalid content hash")
	ErrScanNotFound      = errors.New("scan not found")
	ErrOutsideRoot       = errors.New("path is outside the download directory")
)

// PersistenceWriteError reports a durable-store write that did not complete.
// The in-memory state it guarded is left unchanged.
type PersistenceWriteError struct {
	Op  string
	Err error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error {
	return e.Err
}

// HashComputationError reports a file that could not be read for hashing.
type HashComputationError struct {
	Path string
	Err  error
}

func (e *HashComputationError) Error() string {
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}

func (e *HashComputationError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err carries a PersistenceWriteError.
func IsPersistence(err error) bool {
	var pe *PersistenceWriteError
	return errors.As(err, &pe)
}
