package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrTaskFinalized     = errors.New("task already finished")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ValidationError reports a malformed or missing request parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
