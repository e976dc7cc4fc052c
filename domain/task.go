package domain

import "time"

// Task is the workflow-relevant state of a single task.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	AssigneeID   string     `json:"assigneeId,omitempty"`
	AssigneeName string     `json:"assigneeName,omitempty"`
	CreatedBy    string     `json:"createdBy"`
	IsRisky      bool       `json:"isRisky"`
	RiskNote     string     `json:"riskNote,omitempty"`
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`
	SnoozeNote   string     `json:"snoozeNote,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsSnoozed reports whether a snooze is recorded on the task.
func (t Task) IsSnoozed() bool {
	return t.SnoozedUntil != nil
}

// Clone returns a copy that shares no memory with t.
func (t Task) Clone() Task {
	out := t
	if t.SnoozedUntil != nil {
		until := *t.SnoozedUntil
		out.SnoozedUntil = &until
	}
	return out
}

// Subtask belongs to the subtask store; tasks only read its status.
type Subtask struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"taskId"`
	Title      string        `json:"title,omitempty"`
	Status     SubtaskStatus `json:"status"`
	AssigneeID string        `json:"assigneeId,omitempty"`
	DueDate    *time.Time    `json:"dueDate,omitempty"`
	Priority   Priority      `json:"priority,omitempty"`
}

// Actor is the caller of a workflow operation. CanEdit is decided by the
// caller; the engine does not look permissions up.
type Actor struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	CanEdit bool   `json:"-"`
}

// Assignee identifies who a task is assigned to.
type Assignee struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}
