package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Invalidator clears cached permission sets after catalog mutations.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// Service orchestrates permission catalog administration.
type Service struct {
	repo  Repository
	cache Invalidator
}

// NewService constructs a Service.
func NewService(repo Repository, cache Invalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// ListPermissions returns all catalog permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission fetches a permission by name.
func (s *Service) GetPermission(ctx context.Context, name string) (Permission, error) {
	return s.repo.GetPermissionByName(ctx, strings.TrimSpace(name))
}

// CreatePermission inserts a new permission after validation.
func (s *Service) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Resource = strings.TrimSpace(p.Resource)
	p.Action = strings.TrimSpace(p.Action)
	if p.Name == "" || p.Resource == "" || p.Action == "" {
		return Permission{}, fmt.Errorf("catalog: name, resource and action are required: %w", shared.ErrValidation)
	}
	return s.repo.CreatePermission(ctx, p)
}

// UpdatePermission updates a permission's metadata. The name is immutable
// once grants reference it.
func (s *Service) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	if p.Resource == "" || p.Action == "" {
		return Permission{}, fmt.Errorf("catalog: resource and action are required: %w", shared.ErrValidation)
	}
	return s.repo.UpdatePermission(ctx, p)
}

// DeletePermission removes a permission unless live grants still reference it.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	count, err := s.repo.CountActiveGrants(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("catalog: permission %d has %d active grants: %w", id, count, shared.ErrConflict)
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

// ListRoles returns all roles ordered by authority.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("catalog: role name required: %w", shared.ErrValidation)
	}
	if role.DisplayName == "" {
		role.DisplayName = role.Name
	}
	return s.repo.CreateRole(ctx, role)
}

// UpdateRole updates a role. The Super Admin role is terminal and immutable.
func (s *Service) UpdateRole(ctx context.Context, role Role) (Role, error) {
	current, err := s.repo.GetRole(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	if IsSuperAdminRole(current.Name) {
		return Role{}, fmt.Errorf("catalog: the %s role cannot be edited: %w", SuperAdminRole, shared.ErrConflict)
	}
	updated, err := s.repo.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	return updated, s.invalidateAll(ctx)
}

// DeleteRole removes a role. Rejected for Super Admin and for roles that
// still have assigned users.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if IsSuperAdminRole(role.Name) {
		return fmt.Errorf("catalog: the %s role cannot be deleted: %w", SuperAdminRole, shared.ErrConflict)
	}
	users, err := s.repo.CountRoleUsers(ctx, id)
	if err != nil {
		return err
	}
	if users > 0 {
		return fmt.Errorf("catalog: role %q still has %d assigned users: %w", role.Name, users, shared.ErrConflict)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

// SetRolePermissions replaces the permission set of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if IsSuperAdminRole(role.Name) {
		return fmt.Errorf("catalog: the %s role holds every permission implicitly: %w", SuperAdminRole, shared.ErrConflict)
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

// AssignRole moves a user onto a role. Removing a user from Super Admin via
// normal flows is rejected.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleID int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if current, err := s.repo.GetUserRole(ctx, userID); err == nil {
		if IsSuperAdminRole(current.RoleName) && !IsSuperAdminRole(role.Name) {
			return fmt.Errorf("catalog: users cannot be removed from %s: %w", SuperAdminRole, shared.ErrConflict)
		}
	}
	if err := s.repo.AssignRole(ctx, userID, role); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// AddDependency records that permissionID requires dependsOn.
func (s *Service) AddDependency(ctx context.Context, permissionName, dependsOnName string) error {
	perm, err := s.repo.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	dep, err := s.repo.GetPermissionByName(ctx, dependsOnName)
	if err != nil {
		return err
	}
	if perm.ID == dep.ID {
		return fmt.Errorf("catalog: a permission cannot depend on itself: %w", shared.ErrValidation)
	}
	return s.repo.AddDependency(ctx, Dependency{PermissionID: perm.ID, DependsOnID: dep.ID})
}

// DependencyNames lists the dependency names of a permission.
func (s *Service) DependencyNames(ctx context.Context, permissionID int64) ([]string, error) {
	return s.repo.DependencyNames(ctx, permissionID)
}

func (s *Service) invalidate(ctx context.Context, userID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, userID)
}

func (s *Service) invalidateAll(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateAll(ctx)
}
