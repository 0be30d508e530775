package domain

import "fmt"

// Role is the position of a user in the team tree.
type Role string

const (
	RoleBoss       Role = "boss"
	RoleManager    Role = "manager"
	RoleTechnician Role = "technician"
)

var Roles = []Role{RoleBoss, RoleManager, RoleTechnician}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleBoss, RoleManager, RoleTechnician:
		return true
	}
	return false
}

// Supervisor is true for roles that create, control and pay for tasks.
func (r Role) Supervisor() bool {
	switch r {
	case RoleBoss, RoleManager:
		return true
	case RoleTechnician:
		return false
	}
	return false
}

// AcceptsManager reports whether a user of role r may report to a user of role m.
// A boss reports to nobody; a manager reports to a boss; a technician reports
// to a boss or a manager.
func (r Role) AcceptsManager(m Role) bool {
	switch r {
	case RoleBoss:
		return false
	case RoleManager:
		return m == RoleBoss
	case RoleTechnician:
		return m == RoleBoss || m == RoleManager
	}
	return false
}

// CanCreate reports whether a user of role r may create (or invite) a user of role target.
func (r Role) CanCreate(target Role) bool {
	switch r {
	case RoleBoss:
		return target == RoleManager || target == RoleTechnician
	case RoleManager:
		return target == RoleTechnician
	case RoleTechnician:
		return false
	}
	return false
}
