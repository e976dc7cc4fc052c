package domain

import "fmt"

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusOnHold, StatusCancelled},
	StatusInProgress: {StatusOnHold, StatusDone, StatusCancelled},
	StatusOnHold:     {StatusInProgress, StatusCancelled},
	StatusDone:       nil,
	StatusCancelled:  nil,
}

// AllowedTransitions returns the statuses reachable from from in one step.
// It panics when from is not a defined status.
func AllowedTransitions(from Status) []Status {
	next, ok := transitions[from]
	if !ok {
		panic(fmt.Sprintf("domain: unknown status %q", from))
	}
	return append([]Status(nil), next...)
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions(from) {
		if s == to {
			return true
		}
	}
	return false
}

// incompleteSubtasks counts subtasks that still block completion.
func incompleteSubtasks(subtasks []Subtask) int {
	n := 0
	for _, st := range subtasks {
		if !st.Status.Completed() {
			n++
		}
	}
	return n
}
