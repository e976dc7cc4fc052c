package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// ActivityKind names the mutation an activity record describes.
type ActivityKind string

const (
	ActivityTaskCreated       ActivityKind = "task_created"
	ActivityStatusChanged     ActivityKind = "status_changed"
	ActivityPriorityChanged   ActivityKind = "priority_changed"
	ActivityAssignmentChanged ActivityKind = "assignment_changed"
	ActivityTaskSnoozed       ActivityKind = "task_snoozed"
	ActivityTaskUnsnoozed     ActivityKind = "task_unsnoozed"
	ActivityRiskMarked        ActivityKind = "risk_marked"
	ActivityRiskCleared       ActivityKind = "risk_cleared"
)

// ActivityDetails is the kind-specific payload of an activity record. The
// set of implementations is closed to this package.
type ActivityDetails interface {
	Kind() ActivityKind
	activityDetails()
}

type TaskCreated struct {
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
}

type StatusChanged struct {
	OldStatus Status `json:"oldStatus"`
	NewStatus Status `json:"newStatus"`
}

type PriorityChanged struct {
	OldPriority Priority `json:"oldPriority"`
	NewPriority Priority `json:"newPriority"`
}

type AssignmentChanged struct {
	PreviousAssignee Assignee `json:"previousAssignee"`
	AssignedTo       Assignee `json:"assignedTo"`
}

type TaskSnoozed struct {
	SnoozeUntil time.Time `json:"snoozeUntil"`
	Note        string    `json:"note,omitempty"`
}

type TaskUnsnoozed struct{}

type RiskMarked struct {
	Note string `json:"note"`
}

type RiskCleared struct {
	PreviousNote string `json:"previousNote,omitempty"`
}

func (TaskCreated) Kind() ActivityKind       { return ActivityTaskCreated }
func (StatusChanged) Kind() ActivityKind     { return ActivityStatusChanged }
func (PriorityChanged) Kind() ActivityKind   { return ActivityPriorityChanged }
func (AssignmentChanged) Kind() ActivityKind { return ActivityAssignmentChanged }
func (TaskSnoozed) Kind() ActivityKind       { return ActivityTaskSnoozed }
func (TaskUnsnoozed) Kind() ActivityKind     { return ActivityTaskUnsnoozed }
func (RiskMarked) Kind() ActivityKind        { return ActivityRiskMarked }
func (RiskCleared) Kind() ActivityKind       { return ActivityRiskCleared }

func (TaskCreated) activityDetails()       {}
func (StatusChanged) activityDetails()     {}
func (PriorityChanged) activityDetails()   {}
func (AssignmentChanged) activityDetails() {}
func (TaskSnoozed) activityDetails()       {}
func (TaskUnsnoozed) activityDetails()     {}
func (RiskMarked) activityDetails()        {}
func (RiskCleared) activityDetails()       {}

// ActivityRecord is an immutable audit entry for one task mutation.
type ActivityRecord struct {
	ID        string
	TaskID    string
	ActorID   string
	Timestamp time.Time
	Details   ActivityDetails
}

// Kind returns the kind carried by the record's payload.
func (r ActivityRecord) Kind() ActivityKind {
	if r.Details == nil {
		return ""
	}
	return r.Details.Kind()
}

type activityEnvelope struct {
	ID        string                 `json:"id"`
	TaskID    string                 `json:"taskId"`
	Type      ActivityKind           `json:"type"`
	ActorID   string                 `json:"actorId"`
	Timestamp time.Time              `json:"timestamp"`
	Details   sonic.NoCopyRawMessage `json:"details,omitempty"`
}

var errMissingDetails = errors.New("activity record has no details")

func (r ActivityRecord) MarshalJSON() ([]byte, error) {
	if r.Details == nil {
		return nil, errMissingDetails
	}
	details, err := sonic.Marshal(r.Details)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(activityEnvelope{
		ID:        r.ID,
		TaskID:    r.TaskID,
		Type:      r.Details.Kind(),
		ActorID:   r.ActorID,
		Timestamp: r.Timestamp,
		Details:   details,
	})
}

func (r *ActivityRecord) UnmarshalJSON(data []byte) error {
	var env activityEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return err
	}
	details, err := decodeDetails(env.Type, env.Details)
	if err != nil {
		return err
	}
	*r = ActivityRecord{
		ID:        env.ID,
		TaskID:    env.TaskID,
		ActorID:   env.ActorID,
		Timestamp: env.Timestamp,
		Details:   details,
	}
	return nil
}

func decodeDetails(kind ActivityKind, raw []byte) (ActivityDetails, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch kind {
	case ActivityTaskCreated:
		return decodeInto[TaskCreated](raw)
	case ActivityStatusChanged:
		return decodeInto[StatusChanged](raw)
	case ActivityPriorityChanged:
		return decodeInto[PriorityChanged](raw)
	case ActivityAssignmentChanged:
		return decodeInto[AssignmentChanged](raw)
	case ActivityTaskSnoozed:
		return decodeInto[TaskSnoozed](raw)
	case ActivityTaskUnsnoozed:
		return TaskUnsnoozed{}, nil
	case ActivityRiskMarked:
		return decodeInto[RiskMarked](raw)
	case ActivityRiskCleared:
		return decodeInto[RiskCleared](raw)
	default:
		return nil, fmt.Errorf("unknown activity type %q", kind)
	}
}

func decodeInto[T ActivityDetails](raw []byte) (ActivityDetails, error) {
	var v T
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Describe renders a record as a sentence for activity feeds.
func Describe(r ActivityRecord) string {
	switch d := r.Details.(type) {
	case TaskCreated:
		return fmt.Sprintf("created the task %q", d.Title)
	case StatusChanged:
		return fmt.Sprintf("changed status from %s to %s", d.OldStatus, d.NewStatus)
	case PriorityChanged:
		return fmt.Sprintf("changed priority from %s to %s", d.OldPriority, d.NewPriority)
	case AssignmentChanged:
		if d.PreviousAssignee.ID == "" {
			return fmt.Sprintf("assigned the task to %s", assigneeLabel(d.AssignedTo))
		}
		return fmt.Sprintf("reassigned the task from %s to %s", assigneeLabel(d.PreviousAssignee), assigneeLabel(d.AssignedTo))
	case TaskSnoozed:
		msg := "snoozed the task until " + d.SnoozeUntil.UTC().Format(time.RFC3339)
		if d.Note != "" {
			msg += ": " + d.Note
		}
		return msg
	case TaskUnsnoozed:
		return "unsnoozed the task"
	case RiskMarked:
		return "flagged the task as at risk: " + d.Note
	case RiskCleared:
		return "cleared the risk flag"
	default:
		return "updated the task"
	}
}

func assigneeLabel(a Assignee) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
