package model

import "time"

// RoleAdminRoot is the role name that bypasses every permission check.  It
// may be held globally (users.global_role) or through any project
// membership.
const RoleAdminRoot = "admin_root"

// Project-scoped role names seeded by the initial migration.
const (
	RoleResident  = "resident"
	RoleCommittee = "committee"
)

// User represents an application user record as stored in the `users`
// table.  GlobalRole is optional and only ever holds admin_root in
// practice; project roles live on memberships.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	GlobalRole   – optional process-wide role (e.g. admin_root).
//	Disabled     – disabled users never authorize.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	GlobalRole   string    // users.global_role ("" when NULL)
	Disabled     bool      // users.disabled
	CreatedAt    time.Time // users.created_at
}

// Role represents a row in the `roles` table.  The set of permission keys
// granted to a role lives in role_permissions and is mutable at runtime.
type Role struct {
	ID   uint64 // roles.id
	Name string // roles.name
}

// Membership associates a user with a project under a role.  There is at
// most one membership per (user, project).
type Membership struct {
	ID        uint64 // project_members.id
	UserID    uint64 // project_members.user_id
	ProjectID uint64 // project_members.project_id
	RoleID    uint64 // project_members.role_id
	RoleName  string // roles.name joined for convenience
}

// Project is the tenant boundary.  Only the fields needed for display are
// loaded.
type Project struct {
	ID   uint64 // projects.id
	Name string // projects.name
}

// Principal is the authenticated caller together with every membership it
// holds.  Memberships are ordered by membership ID ascending so that the
// "first" membership is stable across requests.
type Principal struct {
	ID          uint64
	Email       string
	GlobalRole  string
	Disabled    bool
	Memberships []Membership
}

// IsAdminRoot reports whether the principal holds admin_root either
// globally or through any membership.
func (p *Principal) IsAdminRoot() bool {
	if p == nil {
		return false
	}
	if p.GlobalRole == RoleAdminRoot {
		return true
	}
	for _, m := range p.Memberships {
		if m.RoleName == RoleAdminRoot {
			return true
		}
	}
	return false
}

// MembershipFor returns the membership the principal holds in projectID.
func (p *Principal) MembershipFor(projectID uint64) (Membership, bool) {
	if p == nil {
		return Membership{}, false
	}
	for _, m := range p.Memberships {
		if m.ProjectID == projectID {
			return m, true
		}
	}
	return Membership{}, false
}
