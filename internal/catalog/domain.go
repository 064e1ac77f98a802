package catalog

import "time"

// SuperAdminRole is the terminal role name. It bypasses every check and is
// protected from edits, deletion and user removal.
const SuperAdminRole = "Super Admin"

// Permission represents an atomic capability over a resource.
type Permission struct {
	ID          int64
	Name        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Role represents a high-level permission grouping. Priority orders roles
// by authority; higher wins display ordering and tie-breaks.
type Role struct {
	ID          int64
	Name        string
	DisplayName string
	Priority    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserRole links a user to a role. RoleName is kept for the legacy
// role-permission table; RoleID points at the normalized role when the user
// has been migrated.
type UserRole struct {
	UserID   int64
	RoleName string
	RoleID   *int64
}

// Dependency marks that granting a permission requires another one.
type Dependency struct {
	PermissionID int64
	DependsOnID  int64
}

// IsSuperAdminRole reports whether name refers to the terminal role.
func IsSuperAdminRole(name string) bool {
	return name == SuperAdminRole
}
