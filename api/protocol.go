package api

import (
	"errors"
	"net/http"
	"time"

	"tasksetu-api/domain"
)

const (
	postCommandMaxSize = 64 * 1024 // 64 KiB
	postBodyMaxSize    = 16 * 1024
)

type createTaskRequest struct {
	Title        string `json:"title"`
	Priority     string `json:"priority"`
	AssigneeID   string `json:"assigneeId"`
	AssigneeName string `json:"assigneeName"`
}

type upsertSubtaskRequest struct {
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	AssigneeID string     `json:"assigneeId"`
	Priority   string     `json:"priority"`
	DueDate    *time.Time `json:"dueDate"`
}

type taskResponse struct {
	Task                 domain.Task            `json:"task"`
	AvailableTransitions []domain.Status        `json:"availableTransitions"`
	Activity             *domain.ActivityRecord `json:"activity,omitempty"`
}

type transitionsResponse struct {
	AvailableTransitions []domain.Status `json:"availableTransitions"`
}

type activityResponse struct {
	Activity []activityItem `json:"activity"`
}

type activityItem struct {
	Record  domain.ActivityRecord `json:"record"`
	Summary string                `json:"summary"`
}

// /POST /api/tasks/:id/commands response body
type commandResponse struct {
	OK       bool                   `json:"ok"`
	Task     *domain.Task           `json:"task,omitempty"`
	Activity *domain.ActivityRecord `json:"activity,omitempty"`
	Warning  string                 `json:"warning,omitempty"`

	Error            string `json:"error,omitempty"`
	Detail           string `json:"detail,omitempty"`
	Message          string `json:"message,omitempty"`
	BlockingSubtasks int    `json:"blockingSubtasks,omitempty"`
}

const errDuplicateCommand = "DuplicateCommand"

func errorResponse(err error) commandResponse {
	resp := commandResponse{OK: false, Message: domain.Message(err)}
	var we *domain.WorkflowError
	switch {
	case errors.As(err, &we):
		resp.Error = string(we.Kind)
		resp.Detail = we.Detail
		resp.BlockingSubtasks = we.BlockingSubtasks
	case errors.Is(err, domain.ErrTaskNotFound):
		resp.Error = "NotFound"
	default:
		resp.Error = "Internal"
	}
	return resp
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrTaskNotFound) {
		return http.StatusNotFound
	}
	kind, ok := domain.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case domain.KindInvalidTransition, domain.KindBlockedByDependents:
		return http.StatusConflict
	case domain.KindConfirmationRequired:
		return http.StatusPreconditionRequired
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
