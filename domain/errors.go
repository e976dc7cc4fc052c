package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected workflow operation.
type ErrorKind string

const (
	KindInvalidTransition    ErrorKind = "InvalidTransition"
	KindBlockedByDependents  ErrorKind = "BlockedByDependents"
	KindConfirmationRequired ErrorKind = "ConfirmationRequired"
	KindPermissionDenied     ErrorKind = "PermissionDenied"
	KindInvalidArgument      ErrorKind = "InvalidArgument"
)

// WorkflowError is returned when an operation is rejected by a business rule.
// A rejected operation never mutates state nor emits activity.
type WorkflowError struct {
	Kind   ErrorKind
	Detail string
	// BlockingSubtasks is set for KindBlockedByDependents.
	BlockingSubtasks int
}

func (e *WorkflowError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches any WorkflowError of the same kind, so the sentinels below can
// be used with errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidTransition    = &WorkflowError{Kind: KindInvalidTransition}
	ErrBlockedByDependents  = &WorkflowError{Kind: KindBlockedByDependents}
	ErrConfirmationRequired = &WorkflowError{Kind: KindConfirmationRequired}
	ErrPermissionDenied     = &WorkflowError{Kind: KindPermissionDenied}
	ErrInvalidArgument      = &WorkflowError{Kind: KindInvalidArgument}
)

// ErrTaskNotFound is returned by stores and the service when a task id is unknown.
var ErrTaskNotFound = errors.New("task not found")

// KindOf extracts the ErrorKind from err when it wraps a WorkflowError.
func KindOf(err error) (ErrorKind, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind, true
	}
	return "", false
}

func rejectf(kind ErrorKind, format string, args ...any) *WorkflowError {
	return &WorkflowError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Message maps an error to the text shown to the user.
func Message(err error) string {
	var we *WorkflowError
	if !errors.As(err, &we) {
		if errors.Is(err, ErrTaskNotFound) {
			return "Task not found"
		}
		return "Something went wrong, please try again"
	}
	switch we.Kind {
	case KindBlockedByDependents:
		noun := "sub-tasks"
		if we.BlockingSubtasks == 1 {
			noun = "sub-task"
		}
		return fmt.Sprintf("Cannot mark task as completed: %d incomplete %s", we.BlockingSubtasks, noun)
	case KindInvalidTransition:
		return "This status change is not allowed"
	case KindConfirmationRequired:
		return "Please confirm this change, it cannot be undone"
	case KindPermissionDenied:
		return "You do not have permission to change this task"
	case KindInvalidArgument:
		if we.Detail != "" {
			return "Invalid input: " + we.Detail
		}
		return "Invalid input"
	default:
		return we.Error()
	}
}
