package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var actor = Actor{ID: "u1", Name: "Asha"}

func newTestEngine() *Engine { return NewEngine(fixedClock, sequentialIDs()) }

func TestAllowedTransitionsTable(t *testing.T) {
	cases := map[Status][]Status{
		StatusOpen:       {StatusInProgress, StatusOnHold, StatusCancelled},
		StatusInProgress: {StatusOnHold, StatusDone, StatusCancelled},
		StatusOnHold:     {StatusInProgress, StatusCancelled},
		StatusDone:       {},
		StatusCancelled:  {},
	}
	for from, want := range cases {
		got := AllowedTransitions(from)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %v, got %v", from, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: expected %v, got %v", from, want, got)
			}
		}
	}
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	got := AllowedTransitions(StatusOpen)
	got[0] = StatusDone
	if AllowedTransitions(StatusOpen)[0] != StatusInProgress {
		t.Fatalf("transition table was mutated through returned slice")
	}
}

func TestAllowedTransitionsPanicsOnUnknownStatus(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown status")
		}
	}()
	AllowedTransitions(Status("ARCHIVED"))
}

func TestStatusChangeSucceedsIffAllConditionsHold(t *testing.T) {
	subtaskSets := map[string][]Subtask{
		"none":     nil,
		"complete": {{ID: "s1", Status: SubtaskDone}, {ID: "s2", Status: SubtaskCancelled}},
		"blocking": {{ID: "s1", Status: SubtaskDone}, {ID: "s2", Status: SubtaskBlocked}},
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			for name, subtasks := range subtaskSets {
				for _, confirmed := range []bool{false, true} {
					task := openTask()
					task.Status = from
					e := newTestEngine()

					out, err := e.RequestStatusChange(task, subtasks, to, actor, confirmed)

					gateOK := to != StatusDone || incompleteSubtasks(subtasks) == 0
					want := CanTransition(from, to) && gateOK && (!to.IsTerminal() || confirmed)
					if want != (err == nil) {
						t.Fatalf("%s -> %s (subtasks=%s, confirmed=%v): expected success=%v, got err=%v", from, to, name, confirmed, want, err)
					}
					if err != nil {
						if out.Activity != nil {
							t.Fatalf("rejected change emitted activity")
						}
						if task.Status != from {
							t.Fatalf("input snapshot mutated")
						}
						continue
					}
					if out.Task.Status != to {
						t.Fatalf("expected status %s, got %s", to, out.Task.Status)
					}
					if !out.Task.Status.IsValid() {
						t.Fatalf("invalid status %q", out.Task.Status)
					}
				}
			}
		}
	}
}

func TestTerminalStatusesAcceptNoFurtherChange(t *testing.T) {
	for _, terminal := range []Status{StatusDone, StatusCancelled} {
		task := openTask()
		task.Status = terminal
		e := newTestEngine()
		for _, to := range Statuses() {
			_, err := e.RequestStatusChange(task, nil, to, actor, true)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected InvalidTransition, got %v", terminal, to, err)
			}
		}
	}
}

func TestCompletionBlockedByOpenSubtasks(t *testing.T) {
	task := openTask()
	task.Status = StatusInProgress
	subtasks := []Subtask{
		{ID: "s1", TaskID: task.ID, Status: SubtaskToDo},
		{ID: "s2", TaskID: task.ID, Status: SubtaskInProgress},
	}

	_, err := newTestEngine().RequestStatusChange(task, subtasks, StatusDone, actor, true)

	if !errors.Is(err, ErrBlockedByDependents) {
		t.Fatalf("expected BlockedByDependents, got %v", err)
	}
	var we *WorkflowError
	if !errors.As(err, &we) || we.BlockingSubtasks != 2 {
		t.Fatalf("expected 2 blocking subtasks, got %#v", err)
	}
}

func TestCompletionAfterSubtasksDone(t *testing.T) {
	task := openTask()
	task.Status = StatusInProgress
	subtasks := []Subtask{
		{ID: "s1", TaskID: task.ID, Status: SubtaskDone},
		{ID: "s2", TaskID: task.ID, Status: SubtaskDone},
	}

	out, err := newTestEngine().RequestStatusChange(task, subtasks, StatusDone, actor, true)
	if err != nil {
		t.Fatalf("request status change: %v", err)
	}
	if out.Task.Status != StatusDone {
		t.Fatalf("expected DONE, got %s", out.Task.Status)
	}
	if out.Activity == nil || out.Activity.Kind() != ActivityStatusChanged {
		t.Fatalf("expected status_changed activity, got %#v", out.Activity)
	}
	want := StatusChanged{OldStatus: StatusInProgress, NewStatus: StatusDone}
	if out.Activity.Details != want {
		t.Fatalf("unexpected details %#v", out.Activity.Details)
	}
	if out.Activity.ActorID != actor.ID || out.Activity.TaskID != task.ID {
		t.Fatalf("unexpected record %#v", out.Activity)
	}
	if !out.Task.UpdatedAt.Equal(out.Activity.Timestamp) {
		t.Fatalf("expected updatedAt to match activity timestamp")
	}
}

func TestOpenToDoneIsInvalidTransition(t *testing.T) {
	_, err := newTestEngine().RequestStatusChange(openTask(), nil, StatusDone, actor, true)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

func TestSameStatusIsInvalidTransition(t *testing.T) {
	_, err := newTestEngine().RequestStatusChange(openTask(), nil, StatusOpen, actor, false)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

func TestTerminalChangeRequiresConfirmation(t *testing.T) {
	task := openTask()
	e := newTestEngine()

	_, err := e.RequestStatusChange(task, nil, StatusCancelled, actor, false)
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ConfirmationRequired, got %v", err)
	}

	out, err := e.RequestStatusChange(task, nil, StatusCancelled, actor, true)
	if err != nil {
		t.Fatalf("confirmed cancel: %v", err)
	}
	if out.Task.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", out.Task.Status)
	}
}

func TestBlockedCheckedBeforeConfirmation(t *testing.T) {
	task := openTask()
	task.Status = StatusInProgress
	_, err := newTestEngine().RequestStatusChange(task, []Subtask{{ID: "s", Status: SubtaskBlocked}}, StatusDone, actor, false)
	if !errors.Is(err, ErrBlockedByDependents) {
		t.Fatalf("expected BlockedByDependents before confirmation, got %v", err)
	}
}

func TestStatusChangePanicsOnUnknownTarget(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_, _ = newTestEngine().RequestStatusChange(openTask(), nil, Status("LATER"), actor, true)
}

func TestAvailableTransitionsHidesDoneWhileBlocked(t *testing.T) {
	task := openTask()
	task.Status = StatusInProgress
	e := newTestEngine()

	got := e.AvailableTransitions(task, []Subtask{{ID: "s", Status: SubtaskToDo}})
	if !reflect.DeepEqual(got, []Status{StatusOnHold, StatusCancelled}) {
		t.Fatalf("unexpected transitions %v", got)
	}
	got = e.AvailableTransitions(task, []Subtask{{ID: "s", Status: SubtaskCancelled}})
	if !reflect.DeepEqual(got, []Status{StatusOnHold, StatusDone, StatusCancelled}) {
		t.Fatalf("unexpected transitions %v", got)
	}
	task.Status = StatusDone
	if got := e.AvailableTransitions(task, nil); len(got) != 0 {
		t.Fatalf("expected no transitions from DONE, got %v", got)
	}
}

func TestChangePriorityIsIdempotent(t *testing.T) {
	e := newTestEngine()
	task := openTask()
	var emitted int

	for i := 0; i < 2; i++ {
		out, err := e.ChangePriority(task, PriorityHigh, actor)
		if err != nil {
			t.Fatalf("change priority: %v", err)
		}
		if out.Changed() {
			emitted++
		}
		task = out.Task
	}

	if emitted != 1 {
		t.Fatalf("expected exactly 1 activity, got %d", emitted)
	}
	if task.Priority != PriorityHigh {
		t.Fatalf("expected HIGH, got %s", task.Priority)
	}
}

func TestReassign(t *testing.T) {
	e := newTestEngine()
	task := openTask()
	task.AssigneeID, task.AssigneeName = "u2", "Ben"

	_, err := e.Reassign(task, Assignee{ID: "u3", Name: "Chen"}, actor)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	editor := actor
	editor.CanEdit = true
	out, err := e.Reassign(task, Assignee{ID: "u3", Name: "Chen"}, editor)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if out.Task.AssigneeID != "u3" || out.Task.AssigneeName != "Chen" {
		t.Fatalf("unexpected assignee %s/%s", out.Task.AssigneeID, out.Task.AssigneeName)
	}
	want := AssignmentChanged{PreviousAssignee: Assignee{ID: "u2", Name: "Ben"}, AssignedTo: Assignee{ID: "u3", Name: "Chen"}}
	if out.Activity.Details != want {
		t.Fatalf("unexpected details %#v", out.Activity.Details)
	}

	again, err := e.Reassign(out.Task, Assignee{ID: "u3", Name: "Chen"}, editor)
	if err != nil || again.Changed() {
		t.Fatalf("expected no-op for same assignee, got %v %#v", err, again.Activity)
	}

	if _, err := e.Reassign(task, Assignee{ID: " "}, editor); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for empty assignee, got %v", err)
	}
}

func TestSnoozeInPastRejected(t *testing.T) {
	task := openTask()
	_, err := newTestEngine().Snooze(task, testNow.Add(-24*time.Hour), "note", actor)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if task.IsSnoozed() || task.SnoozeNote != "" {
		t.Fatalf("state changed on rejected snooze")
	}
}

func TestSnoozeAtCurrentTimeRejected(t *testing.T) {
	_, err := newTestEngine().Snooze(openTask(), testNow, "", actor)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for non-future time, got %v", err)
	}
}

func TestSnoozeThenUnsnooze(t *testing.T) {
	e := newTestEngine()
	until := testNow.Add(48 * time.Hour)

	out, err := e.Snooze(openTask(), until, " waiting on vendor ", actor)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if !out.Task.IsSnoozed() || !out.Task.SnoozedUntil.Equal(until) || out.Task.SnoozeNote != "waiting on vendor" {
		t.Fatalf("unexpected snooze state %#v", out.Task)
	}
	if d, ok := out.Activity.Details.(TaskSnoozed); !ok || !d.SnoozeUntil.Equal(until) || d.Note != "waiting on vendor" {
		t.Fatalf("unexpected details %#v", out.Activity.Details)
	}

	cleared, err := e.Unsnooze(out.Task, actor)
	if err != nil {
		t.Fatalf("unsnooze: %v", err)
	}
	if cleared.Task.IsSnoozed() || cleared.Task.SnoozeNote != "" {
		t.Fatalf("expected both snooze fields cleared, got %#v", cleared.Task)
	}
	if cleared.Activity == nil || cleared.Activity.Kind() != ActivityTaskUnsnoozed {
		t.Fatalf("expected task_unsnoozed activity")
	}
	if !out.Task.IsSnoozed() {
		t.Fatalf("unsnooze mutated its input")
	}

	noop, err := e.Unsnooze(cleared.Task, actor)
	if err != nil || noop.Changed() {
		t.Fatalf("expected no-op when not snoozed, got %v %#v", err, noop.Activity)
	}
}

func TestMarkRiskRequiresNote(t *testing.T) {
	task := openTask()
	_, err := newTestEngine().MarkRisk(task, "", actor)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if task.IsRisky {
		t.Fatalf("task flagged despite rejection")
	}
}

func TestMarkAndClearRisk(t *testing.T) {
	e := newTestEngine()

	out, err := e.MarkRisk(openTask(), "vendor late", actor)
	if err != nil {
		t.Fatalf("mark risk: %v", err)
	}
	if !out.Task.IsRisky || out.Task.RiskNote != "vendor late" {
		t.Fatalf("unexpected risk state %#v", out.Task)
	}
	if out.Activity.Details != (RiskMarked{Note: "vendor late"}) {
		t.Fatalf("unexpected details %#v", out.Activity.Details)
	}

	same, err := e.MarkRisk(out.Task, "vendor late", actor)
	if err != nil || same.Changed() {
		t.Fatalf("expected no-op for same note")
	}

	cleared, err := e.ClearRisk(out.Task, actor)
	if err != nil {
		t.Fatalf("clear risk: %v", err)
	}
	if cleared.Task.IsRisky || cleared.Task.RiskNote != "" {
		t.Fatalf("expected risk cleared, got %#v", cleared.Task)
	}
	if cleared.Activity.Details != (RiskCleared{PreviousNote: "vendor late"}) {
		t.Fatalf("unexpected details %#v", cleared.Activity.Details)
	}

	noop, err := e.ClearRisk(cleared.Task, actor)
	if err != nil || noop.Changed() {
		t.Fatalf("expected no-op when not risky")
	}
}

func TestNewTask(t *testing.T) {
	e := newTestEngine()
	out, err := e.NewTask("  Draft plan ", "", Assignee{ID: "u2"}, actor)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if out.Task.Status != StatusOpen || out.Task.Priority != PriorityMedium || out.Task.Title != "Draft plan" {
		t.Fatalf("unexpected task %#v", out.Task)
	}
	if out.Task.CreatedBy != actor.ID || out.Task.ID == "" {
		t.Fatalf("unexpected identity fields %#v", out.Task)
	}
	if out.Activity.Kind() != ActivityTaskCreated {
		t.Fatalf("expected task_created, got %s", out.Activity.Kind())
	}

	if _, err := e.NewTask(" ", PriorityLow, Assignee{}, actor); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for empty title, got %v", err)
	}
	if _, err := e.NewTask("x", Priority("URGENT"), Assignee{}, actor); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for unknown priority, got %v", err)
	}
}

func TestActivityTimestampsStrictlyIncrease(t *testing.T) {
	e := newTestEngine()
	task := openTask()
	first, _ := e.ChangePriority(task, PriorityHigh, actor)
	second, _ := e.ChangePriority(first.Task, PriorityLow, actor)
	if !second.Activity.Timestamp.After(first.Activity.Timestamp) {
		t.Fatalf("expected increasing timestamps, got %v then %v", first.Activity.Timestamp, second.Activity.Timestamp)
	}
}
