package shared

import "errors"

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps failures of the underlying store. Operations
	// that hit it abort without partial state changes.
	ErrPersistence = errors.New("persistence failure")
	// ErrAllocationConflict indicates a document number allocation failed
	// or raced. No number was issued; the caller retries the whole create.
	ErrAllocationConflict = errors.New("allocation conflict")
)
