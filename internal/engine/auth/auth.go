package auth

import (
	"errors"
	"fmt"

	"taskboard/internal/domain"
)

var ErrPermissionDenied = errors.New("permission denied")

// ForbiddenError indicates the actor may not perform Action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Action)
}

func (e ForbiddenError) Is(target error) bool {
	return target == ErrPermissionDenied
}

func Forbidden(action string) error {
	return ForbiddenError{Action: action}
}

// CanView reports whether user may see task. Supervisors see tasks they
// created or control and tasks assigned to anyone sharing their manager;
// everyone else sees only their own assignments.
func CanView(task domain.Task, user domain.User) bool {
	if user.Role.Supervisor() {
		if task.CreatedBy == user.ID {
			return true
		}
		if task.ControlledBy != nil && *task.ControlledBy == user.ID {
			return true
		}
		return task.AssigneeManagerID != nil && user.ManagerID != nil && *task.AssigneeManagerID == *user.ManagerID
	}
	return task.AssignedTo == user.ID
}

// CanEdit reports whether user may change task fields.
func CanEdit(task domain.Task, user domain.User) bool {
	switch user.Role {
	case domain.RoleBoss:
		return true
	case domain.RoleManager:
		if task.CreatedBy == user.ID {
			return true
		}
		if task.ControlledBy != nil && *task.ControlledBy == user.ID {
			return true
		}
		return task.AssigneeManagerID != nil && *task.AssigneeManagerID == user.ID
	case domain.RoleTechnician:
		return task.AssignedTo == user.ID && task.Status == domain.StatusProposed
	}
	return false
}

// CanAssignTaskTo reports whether actor may put a task on target.
func CanAssignTaskTo(actor, target domain.User) bool {
	switch actor.Role {
	case domain.RoleBoss:
		return target.ReportsTo(actor.ID)
	case domain.RoleManager:
		return actor.SameManager(target)
	case domain.RoleTechnician:
		return target.ID == actor.ID
	}
	return false
}

// CanEditUser reports whether editor directly supervises target.
func CanEditUser(editor, target domain.User) bool {
	return editor.Role.Supervisor() && target.ReportsTo(editor.ID)
}
