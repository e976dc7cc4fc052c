package api

import (
	"context"

	"tasksetu-api/domain"
)

// ActivityLog reads the projected activity history of a task.
type ActivityLog interface {
	ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error)
}

// Authenticator is implemented by types able to resolve the caller from an
// Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (Principal, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, taskID, key string) (bool, error)
	// Remove deletes a previously added key, used when the command fails.
	Remove(ctx context.Context, taskID, key string) error
}

// PermissionAdmin lets the holder edit any task.
const PermissionAdmin = "tasks:admin"

// Principal is the authenticated caller.
type Principal struct {
	UserID      string
	Name        string
	Permissions []string
}

func (p Principal) Has(permission string) bool {
	for _, have := range p.Permissions {
		if have == permission {
			return true
		}
	}
	return false
}

// Actor converts the principal into the engine's view of the caller. Admins
// may edit every task; everyone else is decided per task by CanEdit.
func (p Principal) Actor() domain.Actor {
	return domain.Actor{ID: p.UserID, Name: p.Name, CanEdit: p.Has(PermissionAdmin)}
}

// CanEdit grants edit permission to the task's creator and current assignee.
func CanEdit(t domain.Task, a domain.Actor) bool {
	if a.ID == "" {
		return false
	}
	return a.ID == t.CreatedBy || a.ID == t.AssigneeID
}
