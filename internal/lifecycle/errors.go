package lifecycle

import (
	"errors"
	"fmt"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/store"
)

var (
	// ErrNotFound is returned when the task does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrConflict is returned when a write kept losing revision races.
	ErrConflict = store.ErrConflict

	// ErrIllegalTransition is matched by every *TransitionError.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrForbidden is returned when the principal may not perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// TransitionError reports a status change the transition table rejects.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move task from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func forbidden(p model.Principal, action string) error {
	return fmt.Errorf("%w: %s (%s) cannot %s", ErrForbidden, p.Email, p.Role, action)
}
