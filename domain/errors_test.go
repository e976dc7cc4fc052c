package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&WorkflowError{Kind: KindBlockedByDependents, BlockingSubtasks: 3}, "Cannot mark task as completed: 3 incomplete sub-tasks"},
		{&WorkflowError{Kind: KindBlockedByDependents, BlockingSubtasks: 1}, "Cannot mark task as completed: 1 incomplete sub-task"},
		{ErrInvalidTransition, "This status change is not allowed"},
		{ErrConfirmationRequired, "Please confirm this change, it cannot be undone"},
		{ErrPermissionDenied, "You do not have permission to change this task"},
		{rejectf(KindInvalidArgument, "title is required"), "Invalid input: title is required"},
		{fmt.Errorf("load: %w", ErrTaskNotFound), "Task not found"},
		{errors.New("boom"), "Something went wrong, please try again"},
	}
	for _, tc := range cases {
		if got := Message(tc.err); got != tc.want {
			t.Fatalf("%v: expected %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestWorkflowErrorMatchesSentinelThroughWrapping(t *testing.T) {
	err := fmt.Errorf("command: %w", rejectf(KindPermissionDenied, "u1 may not edit"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected PermissionDenied match")
	}
	if errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("unexpected InvalidArgument match")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindPermissionDenied {
		t.Fatalf("unexpected kind %q", kind)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("plain error reported a kind")
	}
}
