package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("an import run is already active for this job")
	ErrInvalidState = errors.New("invalid state transition")
)

// ConflictError reports the live run that blocked an enqueue. Race is true
// when the conflict surfaced through the storage uniqueness guarantee rather
// than the pre-insert lookup.
type ConflictError struct {
	JobID string
	RunID string
	Race  bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("import run %s is already active for job %s", e.RunID, e.JobID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
