package pipeline

import (
	"errors"
	"fmt"

	"shortsq/internal/domain"
)

var (
	// ErrEmptyResult marks a collaborator that returned nothing usable.
	ErrEmptyResult = errors.New("empty result")

	ErrPanic = errors.New("pipeline panicked")
)

// StageError is a failure of one named stage; the task is marked failed.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
