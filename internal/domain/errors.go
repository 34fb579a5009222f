package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTaskNotFound        = errors.New("task not found")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrExecutionExists     = errors.New("execution already exists for this task and user")
	ErrSelfExecution       = errors.New("author cannot execute own task")
	ErrTaskNotSelectable   = errors.New("task not available for new executions")
	ErrNotModerator        = errors.New("not a moderator")
)

// TransitionError reports a state-guard mismatch: the entity was not in the
// status the caller expected. Under concurrency this means someone else
// already handled the row; callers must not retry blindly.
type TransitionError struct {
	Entity string // "task" or "execution"
	ID     int64
	From   string // expected prior status
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %d is not %q (wanted -> %q)", e.Entity, e.ID, e.From, e.To)
}

// IsTransitionConflict reports whether err is a state-guard mismatch.
func IsTransitionConflict(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// ValidationError reports a bad input shape or bound.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
