package documents

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("documents: not found")

// ErrValidation is the sentinel wrapped by every ValidationError so callers
// can match the whole class with errors.Is.
var ErrValidation = errors.New("documents: validation failed")

// ValidationError reports a malformed input field. It never mutates state;
// the caller corrects the input and retries.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("documents: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ErrInvalidTransition is the sentinel wrapped by InvalidTransitionError.
var ErrInvalidTransition = errors.New("documents: invalid transition")

// InvalidTransitionError identifies a lifecycle move that is not permitted
// from the document's current state. The document is left unchanged.
type InvalidTransitionError struct {
	DocumentID uuid.UUID
	Current    DocumentState
	Requested  DocumentState
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("documents: %s: cannot move %s -> %s: %s", e.DocumentID, e.Current, e.Requested, e.Reason)
	}
	return fmt.Sprintf("documents: %s: cannot move %s -> %s", e.DocumentID, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
