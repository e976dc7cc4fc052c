package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of an accepted operation. Activity is nil when the
// operation was a no-op.
type Outcome struct {
	Task     Task
	Activity *ActivityRecord
}

// Changed reports whether the operation mutated the task.
func (o Outcome) Changed() bool { return o.Activity != nil }

// Engine enforces the task workflow. It is pure over its inputs: every
// operation takes a task snapshot and returns a new one, leaving the input
// untouched. Only the activity timestamp depends on the clock.
type Engine struct {
	clock *MonotonicClock
	newID func() string
}

// NewEngine builds an engine. A nil now uses time.Now and a nil newID uses
// random UUIDs.
func NewEngine(now func() time.Time, newID func() string) *Engine {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{clock: NewMonotonicClock(now), newID: newID}
}

// NewTask creates a task in the OPEN status.
func (e *Engine) NewTask(title string, priority Priority, assignee Assignee, actor Actor) (Outcome, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Outcome{}, rejectf(KindInvalidArgument, "title is required")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.IsValid() {
		return Outcome{}, rejectf(KindInvalidArgument, "unknown priority %q", priority)
	}
	now := e.clock.Now()
	t := Task{
		ID:           e.newID(),
		Title:        title,
		Status:       StatusOpen,
		Priority:     priority,
		AssigneeID:   assignee.ID,
		AssigneeName: assignee.Name,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return e.emit(t, actor, now, TaskCreated{Title: title, Priority: priority}), nil
}

// AvailableTransitions lists the statuses the task may move to next. DONE is
// left out while any subtask is incomplete.
func (e *Engine) AvailableTransitions(t Task, subtasks []Subtask) []Status {
	allowed := AllowedTransitions(t.Status)
	blocked := incompleteSubtasks(subtasks) > 0
	out := make([]Status, 0, len(allowed))
	for _, s := range allowed {
		if s == StatusDone && blocked {
			continue
		}
		out = append(out, s)
	}
	return out
}

// RequestStatusChange moves the task to target. Terminal targets require
// confirmed to be true; without it the call only reports
// ConfirmationRequired so the caller can ask the user and call again.
func (e *Engine) RequestStatusChange(t Task, subtasks []Subtask, target Status, actor Actor, confirmed bool) (Outcome, error) {
	mustStatus(t.Status)
	mustStatus(target)
	if target == t.Status {
		return Outcome{}, rejectf(KindInvalidTransition, "task is already %s", target)
	}
	if !CanTransition(t.Status, target) {
		return Outcome{}, rejectf(KindInvalidTransition, "cannot move from %s to %s", t.Status, target)
	}
	if target == StatusDone {
		if n := incompleteSubtasks(subtasks); n > 0 {
			return Outcome{}, &WorkflowError{
				Kind:             KindBlockedByDependents,
				Detail:           fmt.Sprintf("%d incomplete subtasks", n),
				BlockingSubtasks: n,
			}
		}
	}
	if target.IsTerminal() && !confirmed {
		return Outcome{}, rejectf(KindConfirmationRequired, "moving to %s cannot be undone", target)
	}

	now := e.clock.Now()
	next := t.Clone()
	next.Status = target
	return e.emit(next, actor, now, StatusChanged{OldStatus: t.Status, NewStatus: target}), nil
}

// ChangePriority sets the priority. Setting the current priority is a no-op.
func (e *Engine) ChangePriority(t Task, p Priority, actor Actor) (Outcome, error) {
	if !p.IsValid() {
		panic(fmt.Sprintf("domain: unknown priority %q", p))
	}
	if p == t.Priority {
		return Outcome{Task: t.Clone()}, nil
	}
	now := e.clock.Now()
	next := t.Clone()
	next.Priority = p
	return e.emit(next, actor, now, PriorityChanged{OldPriority: t.Priority, NewPriority: p}), nil
}

// Reassign hands the task to another assignee. The actor must be allowed to
// edit the task.
func (e *Engine) Reassign(t Task, to Assignee, actor Actor) (Outcome, error) {
	if !actor.CanEdit {
		return Outcome{}, rejectf(KindPermissionDenied, "%s may not reassign task %s", actor.ID, t.ID)
	}
	to.ID = strings.TrimSpace(to.ID)
	if to.ID == "" {
		return Outcome{}, rejectf(KindInvalidArgument, "assignee id is required")
	}
	if to.ID == t.AssigneeID && to.Name == t.AssigneeName {
		return Outcome{Task: t.Clone()}, nil
	}
	now := e.clock.Now()
	next := t.Clone()
	next.AssigneeID = to.ID
	next.AssigneeName = to.Name
	prev := Assignee{ID: t.AssigneeID, Name: t.AssigneeName}
	return e.emit(next, actor, now, AssignmentChanged{PreviousAssignee: prev, AssignedTo: to}), nil
}

// Snooze hides the task until the given time, which must lie in the future.
func (e *Engine) Snooze(t Task, until time.Time, note string, actor Actor) (Outcome, error) {
	now := e.clock.Now()
	if !until.After(now) {
		return Outcome{}, rejectf(KindInvalidArgument, "snooze time %s is not in the future", until.UTC().Format(time.RFC3339))
	}
	until = until.UTC()
	note = strings.TrimSpace(note)
	next := t.Clone()
	next.SnoozedUntil = &until
	next.SnoozeNote = note
	return e.emit(next, actor, now, TaskSnoozed{SnoozeUntil: until, Note: note}), nil
}

// Unsnooze clears the snooze time and note together.
func (e *Engine) Unsnooze(t Task, actor Actor) (Outcome, error) {
	if !t.IsSnoozed() {
		return Outcome{Task: t.Clone()}, nil
	}
	now := e.clock.Now()
	next := t.Clone()
	next.SnoozedUntil = nil
	next.SnoozeNote = ""
	return e.emit(next, actor, now, TaskUnsnoozed{}), nil
}

// MarkRisk flags the task as at risk. A note is required.
func (e *Engine) MarkRisk(t Task, note string, actor Actor) (Outcome, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return Outcome{}, rejectf(KindInvalidArgument, "risk note is required")
	}
	if t.IsRisky && t.RiskNote == note {
		return Outcome{Task: t.Clone()}, nil
	}
	now := e.clock.Now()
	next := t.Clone()
	next.IsRisky = true
	next.RiskNote = note
	return e.emit(next, actor, now, RiskMarked{Note: note}), nil
}

// ClearRisk removes the risk flag and its note.
func (e *Engine) ClearRisk(t Task, actor Actor) (Outcome, error) {
	if !t.IsRisky {
		return Outcome{Task: t.Clone()}, nil
	}
	now := e.clock.Now()
	next := t.Clone()
	next.IsRisky = false
	next.RiskNote = ""
	return e.emit(next, actor, now, RiskCleared{PreviousNote: t.RiskNote}), nil
}

func (e *Engine) emit(next Task, actor Actor, now time.Time, details ActivityDetails) Outcome {
	next.UpdatedAt = now
	rec := ActivityRecord{
		ID:        e.newID(),
		TaskID:    next.ID,
		ActorID:   actor.ID,
		Timestamp: now,
		Details:   details,
	}
	return Outcome{Task: next, Activity: &rec}
}

func mustStatus(s Status) {
	if !s.IsValid() {
		panic(fmt.Sprintf("domain: unknown status %q", s))
	}
}
