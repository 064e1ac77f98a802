package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

type memoryCatalogRepo struct {
	permissions  map[int64]Permission
	roles        map[int64]Role
	rolePerms    map[int64][]int64
	userRoles    map[int64]UserRole
	deps         map[int64][]int64
	activeGrants map[int64]int64
	nextID       int64
}

func newMemoryCatalogRepo() *memoryCatalogRepo {
	return &memoryCatalogRepo{
		permissions:  make(map[int64]Permission),
		roles:        make(map[int64]Role),
		rolePerms:    make(map[int64][]int64),
		userRoles:    make(map[int64]UserRole),
		deps:         make(map[int64][]int64),
		activeGrants: make(map[int64]int64),
	}
}

func (r *memoryCatalogRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	var out []Permission
	for _, p := range r.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryCatalogRepo) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	for _, p := range r.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("catalog: permission %q: %w", name, shared.ErrNotFound)
}

func (r *memoryCatalogRepo) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	for _, existing := range r.permissions {
		if existing.Name == p.Name {
			return Permission{}, fmt.Errorf("catalog: permission %q exists: %w", p.Name, shared.ErrConflict)
		}
	}
	r.nextID++
	p.ID = r.nextID
	r.permissions[p.ID] = p
	return p, nil
}

func (r *memoryCatalogRepo) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	if _, ok := r.permissions[p.ID]; !ok {
		return Permission{}, shared.ErrNotFound
	}
	r.permissions[p.ID] = p
	return p, nil
}

func (r *memoryCatalogRepo) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := r.permissions[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.permissions, id)
	return nil
}

func (r *memoryCatalogRepo) CountActiveGrants(ctx context.Context, permissionID int64) (int64, error) {
	return r.activeGrants[permissionID], nil
}

func (r *memoryCatalogRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *memoryCatalogRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("catalog: role %d: %w", id, shared.ErrNotFound)
	}
	return role, nil
}

func (r *memoryCatalogRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	for _, role := range r.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (r *memoryCatalogRepo) CreateRole(ctx context.Context, role Role) (Role, error) {
	r.nextID++
	role.ID = r.nextID
	r.roles[role.ID] = role
	return role, nil
}

func (r *memoryCatalogRepo) UpdateRole(ctx context.Context, role Role) (Role, error) {
	if _, ok := r.roles[role.ID]; !ok {
		return Role{}, shared.ErrNotFound
	}
	r.roles[role.ID] = role
	return role, nil
}

func (r *memoryCatalogRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := r.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.roles, id)
	return nil
}

func (r *memoryCatalogRepo) CountRoleUsers(ctx context.Context, roleID int64) (int64, error) {
	var n int64
	for _, ur := range r.userRoles {
		if ur.RoleID != nil && *ur.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (r *memoryCatalogRepo) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	var names []string
	for _, pid := range r.rolePerms[roleID] {
		names = append(names, r.permissions[pid].Name)
	}
	return names, nil
}

func (r *memoryCatalogRepo) LegacyRolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	return nil, nil
}

func (r *memoryCatalogRepo) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	r.rolePerms[roleID] = permissionIDs
	return nil
}

func (r *memoryCatalogRepo) GetUserRole(ctx context.Context, userID int64) (UserRole, error) {
	ur, ok := r.userRoles[userID]
	if !ok {
		return UserRole{}, fmt.Errorf("catalog: user %d has no role: %w", userID, shared.ErrNotFound)
	}
	return ur, nil
}

func (r *memoryCatalogRepo) AssignRole(ctx context.Context, userID int64, role Role) error {
	r.userRoles[userID] = UserRole{UserID: userID, RoleName: role.Name, RoleID: &role.ID}
	return nil
}

func (r *memoryCatalogRepo) DependencyNames(ctx context.Context, permissionID int64) ([]string, error) {
	var names []string
	for _, depID := range r.deps[permissionID] {
		names = append(names, r.permissions[depID].Name)
	}
	return names, nil
}

func (r *memoryCatalogRepo) AddDependency(ctx context.Context, dep Dependency) error {
	r.deps[dep.PermissionID] = append(r.deps[dep.PermissionID], dep.DependsOnID)
	return nil
}

type recordingInvalidator struct {
	users     []int64
	allBumped int
}

func (c *recordingInvalidator) Invalidate(ctx context.Context, userID int64) error {
	c.users = append(c.users, userID)
	return nil
}

func (c *recordingInvalidator) InvalidateAll(ctx context.Context) error {
	c.allBumped++
	return nil
}

func TestCreatePermissionValidation(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo(), nil)

	_, err := svc.CreatePermission(context.Background(), Permission{Name: "  ", Resource: "patients", Action: "read"})
	require.ErrorIs(t, err, shared.ErrValidation)

	p, err := svc.CreatePermission(context.Background(), Permission{Name: " view-patients ", Resource: "patients", Action: "read"})
	require.NoError(t, err)
	require.Equal(t, "view-patients", p.Name)
}

func TestDeletePermissionBlockedByActiveGrants(t *testing.T) {
	repo := newMemoryCatalogRepo()
	cache := &recordingInvalidator{}
	svc := NewService(repo, cache)

	p, err := svc.CreatePermission(context.Background(), Permission{Name: "edit-records", Resource: "records", Action: "write"})
	require.NoError(t, err)

	repo.activeGrants[p.ID] = 2
	err = svc.DeletePermission(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	repo.activeGrants[p.ID] = 0
	require.NoError(t, svc.DeletePermission(context.Background(), p.ID))
	require.Equal(t, 1, cache.allBumped, "catalog deletes must drop every cached set")
}

func TestSuperAdminRoleIsImmutable(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)

	super, err := svc.CreateRole(context.Background(), Role{Name: SuperAdminRole})
	require.NoError(t, err)

	_, err = svc.UpdateRole(context.Background(), Role{ID: super.ID, Name: "Renamed"})
	require.ErrorIs(t, err, shared.ErrConflict)

	err = svc.DeleteRole(context.Background(), super.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	err = svc.SetRolePermissions(context.Background(), super.ID, []int64{1})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteRoleBlockedByAssignedUsers(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)

	role, err := svc.CreateRole(context.Background(), Role{Name: "Nurse"})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(context.Background(), 1, role.ID))

	err = svc.DeleteRole(context.Background(), role.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAssignRoleInvalidatesOnlyThatUser(t *testing.T) {
	repo := newMemoryCatalogRepo()
	cache := &recordingInvalidator{}
	svc := NewService(repo, cache)

	role, err := svc.CreateRole(context.Background(), Role{Name: "Doctor"})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(context.Background(), 7, role.ID))

	require.Equal(t, []int64{7}, cache.users)
	require.Zero(t, cache.allBumped)
}

func TestSuperAdminUsersCannotBeDemoted(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)

	super, err := svc.CreateRole(context.Background(), Role{Name: SuperAdminRole})
	require.NoError(t, err)
	doctor, err := svc.CreateRole(context.Background(), Role{Name: "Doctor"})
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(context.Background(), 1, super.ID))
	err = svc.AssignRole(context.Background(), 1, doctor.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestSetRolePermissionsInvalidatesAll(t *testing.T) {
	repo := newMemoryCatalogRepo()
	cache := &recordingInvalidator{}
	svc := NewService(repo, cache)

	role, err := svc.CreateRole(context.Background(), Role{Name: "Nurse"})
	require.NoError(t, err)
	require.NoError(t, svc.SetRolePermissions(context.Background(), role.ID, []int64{1, 2}))
	require.Equal(t, 1, cache.allBumped)
}

func TestAddDependencyRejectsSelfReference(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)

	_, err := svc.CreatePermission(context.Background(), Permission{Name: "edit-records", Resource: "records", Action: "write"})
	require.NoError(t, err)

	err = svc.AddDependency(context.Background(), "edit-records", "edit-records")
	require.ErrorIs(t, err, shared.ErrValidation)
}
