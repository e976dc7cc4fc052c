package storage

import (
	"fmt"
	"strings"
	"time"

	"tasksetu-api/domain"
)

const edmInt64 = "Edm.Int64"

// entity carries the table keys shared by every row.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is a task row. Tasks are partitioned by their own id.
type taskEntity struct {
	entity
	Title            string `json:"Title"`
	Status           string `json:"Status"`
	Priority         string `json:"Priority"`
	AssigneeID       string `json:"AssigneeId,omitempty"`
	AssigneeName     string `json:"AssigneeName,omitempty"`
	CreatedBy        string `json:"CreatedBy,omitempty"`
	IsRisky          bool   `json:"IsRisky"`
	RiskNote         string `json:"RiskNote,omitempty"`
	SnoozedUntil     int64  `json:"SnoozedUntil,string"`
	SnoozedUntilType string `json:"SnoozedUntil@odata.type"`
	SnoozeNote       string `json:"SnoozeNote,omitempty"`
	CreatedAt        int64  `json:"CreatedAt,string"`
	CreatedAtType    string `json:"CreatedAt@odata.type"`
	UpdatedAt        int64  `json:"UpdatedAt,string"`
	UpdatedAtType    string `json:"UpdatedAt@odata.type"`
}

func toTaskEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		entity:           entity{PartitionKey: t.ID, RowKey: t.ID},
		Title:            t.Title,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		AssigneeID:       t.AssigneeID,
		AssigneeName:     t.AssigneeName,
		CreatedBy:        t.CreatedBy,
		IsRisky:          t.IsRisky,
		RiskNote:         t.RiskNote,
		SnoozedUntilType: edmInt64,
		SnoozeNote:       t.SnoozeNote,
		CreatedAt:        t.CreatedAt.UnixNano(),
		CreatedAtType:    edmInt64,
		UpdatedAt:        t.UpdatedAt.UnixNano(),
		UpdatedAtType:    edmInt64,
	}
	if t.SnoozedUntil != nil {
		ent.SnoozedUntil = t.SnoozedUntil.UnixNano()
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	t := domain.Task{
		ID:           e.RowKey,
		Title:        e.Title,
		Status:       domain.Status(e.Status),
		Priority:     domain.Priority(e.Priority),
		AssigneeID:   e.AssigneeID,
		AssigneeName: e.AssigneeName,
		CreatedBy:    e.CreatedBy,
		IsRisky:      e.IsRisky,
		RiskNote:     e.RiskNote,
		SnoozeNote:   e.SnoozeNote,
		CreatedAt:    fromUnixNano(e.CreatedAt),
		UpdatedAt:    fromUnixNano(e.UpdatedAt),
	}
	if e.SnoozedUntil != 0 {
		until := fromUnixNano(e.SnoozedUntil)
		t.SnoozedUntil = &until
	}
	return t
}

// subtaskEntity is partitioned by the parent task so one query loads them all.
type subtaskEntity struct {
	entity
	Title       string `json:"Title"`
	Status      string `json:"Status"`
	AssigneeID  string `json:"AssigneeId,omitempty"`
	Priority    string `json:"Priority,omitempty"`
	DueDate     int64  `json:"DueDate,string"`
	DueDateType string `json:"DueDate@odata.type"`
}

func toSubtaskEntity(st domain.Subtask) subtaskEntity {
	ent := subtaskEntity{
		entity:      entity{PartitionKey: st.TaskID, RowKey: st.ID},
		Title:       st.Title,
		Status:      string(st.Status),
		AssigneeID:  st.AssigneeID,
		Priority:    string(st.Priority),
		DueDateType: edmInt64,
	}
	if st.DueDate != nil {
		ent.DueDate = st.DueDate.UnixNano()
	}
	return ent
}

func (e subtaskEntity) subtask() domain.Subtask {
	st := domain.Subtask{
		ID:         e.RowKey,
		TaskID:     e.PartitionKey,
		Title:      e.Title,
		Status:     domain.SubtaskStatus(e.Status),
		AssigneeID: e.AssigneeID,
		Priority:   domain.Priority(e.Priority),
	}
	if e.DueDate != 0 {
		due := fromUnixNano(e.DueDate)
		st.DueDate = &due
	}
	return st
}

// activityEntity stores the encoded record. The row key sorts by timestamp
// so a partition scan returns the task history in emission order.
type activityEntity struct {
	entity
	Type          string `json:"Type"`
	ActorID       string `json:"ActorId"`
	Timestamp     int64  `json:"EmittedAt,string"`
	TimestampType string `json:"EmittedAt@odata.type"`
	Payload       string `json:"Payload"`
}

func activityRowKey(rec domain.ActivityRecord) string {
	return fmt.Sprintf("%019d-%s", rec.Timestamp.UnixNano(), rec.ID)
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// partitionFilter builds an OData filter for one partition.
func partitionFilter(pk string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(pk, "'", "''") + "'"
}
