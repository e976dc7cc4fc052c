package domain

import (
	"bytes"
	"context"
	"time"

	"github.com/bytedance/sonic"
)

// CommandType names a workflow operation requested over the wire.
type CommandType string

const (
	CommandChangeStatus   CommandType = "change-status"
	CommandChangePriority CommandType = "change-priority"
	CommandReassign       CommandType = "reassign"
	CommandSnooze         CommandType = "snooze"
	CommandUnsnooze       CommandType = "unsnooze"
	CommandMarkRisk       CommandType = "mark-risk"
	CommandClearRisk      CommandType = "clear-risk"
)

// Command is a write request against one task.
type Command struct {
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	Type           CommandType            `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
}

type ChangeStatusData struct {
	Status    string `json:"status"`
	Confirmed bool   `json:"confirmed"`
}

type ChangePriorityData struct {
	Priority string `json:"priority"`
}

type ReassignData struct {
	AssigneeID   string `json:"assigneeId"`
	AssigneeName string `json:"assigneeName"`
}

type SnoozeData struct {
	Until time.Time `json:"until"`
	Note  string    `json:"note"`
}

type RiskData struct {
	Note string `json:"note"`
}

// Execute decodes cmd and runs the matching service operation on taskID.
// Malformed payloads are rejected as InvalidArgument.
func Execute(ctx context.Context, svc *Service, taskID string, cmd Command, actor Actor) (Result, error) {
	switch cmd.Type {
	case CommandChangeStatus:
		var d ChangeStatusData
		if err := decodeData(cmd, &d); err != nil {
			return Result{}, err
		}
		status, err := ParseStatus(d.Status)
		if err != nil {
			return Result{}, rejectf(KindInvalidArgument, "%v", err)
		}
		return svc.RequestStatusChange(ctx, taskID, status, actor, d.Confirmed)
	case CommandChangePriority:
		var d ChangePriorityData
		if err := decodeData(cmd, &d); err != nil {
			return Result{}, err
		}
		p, err := ParsePriority(d.Priority)
		if err != nil {
			return Result{}, rejectf(KindInvalidArgument, "%v", err)
		}
		return svc.ChangePriority(ctx, taskID, p, actor)
	case CommandReassign:
		var d ReassignData
		if err := decodeData(cmd, &d); err != nil {
			return Result{}, err
		}
		return svc.Reassign(ctx, taskID, Assignee{ID: d.AssigneeID, Name: d.AssigneeName}, actor)
	case CommandSnooze:
		var d SnoozeData
		if err := decodeData(cmd, &d); err != nil {
			return Result{}, err
		}
		return svc.Snooze(ctx, taskID, d.Until, d.Note, actor)
	case CommandUnsnooze:
		return svc.Unsnooze(ctx, taskID, actor)
	case CommandMarkRisk:
		var d RiskData
		if err := decodeData(cmd, &d); err != nil {
			return Result{}, err
		}
		return svc.MarkRisk(ctx, taskID, d.Note, actor)
	case CommandClearRisk:
		return svc.ClearRisk(ctx, taskID, actor)
	default:
		return Result{}, rejectf(KindInvalidArgument, "unknown command %q", cmd.Type)
	}
}

func decodeData(cmd Command, v any) error {
	if len(cmd.Data) == 0 {
		return rejectf(KindInvalidArgument, "%s requires data", cmd.Type)
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(cmd.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return rejectf(KindInvalidArgument, "invalid %s data", cmd.Type)
	}
	return nil
}
