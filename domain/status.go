package domain

import "fmt"

// Status is the workflow state of a task.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusDone       Status = "DONE"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses returns every valid task status.
func Statuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusOnHold, StatusDone, StatusCancelled}
}

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusOnHold, StatusDone, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// ParseStatus converts user input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Priority ranks how urgent a task is.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// ParsePriority converts user input into a Priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown priority %q", raw)
	}
	return p, nil
}

// SubtaskStatus is the state of a subtask as reported by the subtask store.
type SubtaskStatus string

const (
	SubtaskToDo       SubtaskStatus = "TO_DO"
	SubtaskInProgress SubtaskStatus = "IN_PROGRESS"
	SubtaskBlocked    SubtaskStatus = "BLOCKED"
	SubtaskDone       SubtaskStatus = "DONE"
	SubtaskCancelled  SubtaskStatus = "CANCELLED"
)

func (s SubtaskStatus) IsValid() bool {
	switch s {
	case SubtaskToDo, SubtaskInProgress, SubtaskBlocked, SubtaskDone, SubtaskCancelled:
		return true
	default:
		return false
	}
}

// Completed reports whether the subtask no longer blocks its parent.
func (s SubtaskStatus) Completed() bool {
	return s == SubtaskDone || s == SubtaskCancelled
}

// ParseSubtaskStatus converts user input into a SubtaskStatus.
func ParseSubtaskStatus(raw string) (SubtaskStatus, error) {
	s := SubtaskStatus(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown subtask status %q", raw)
	}
	return s, nil
}
