package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/grants"
)

type stubRoleSource struct {
	role        catalog.UserRole
	roleErr     error
	rolePerms   []string
	legacyPerms []string
	allPerms    []catalog.Permission
	calls       int
}

func (s *stubRoleSource) GetUserRole(ctx context.Context, userID int64) (catalog.UserRole, error) {
	s.calls++
	return s.role, s.roleErr
}

func (s *stubRoleSource) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	return s.rolePerms, nil
}

func (s *stubRoleSource) LegacyRolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	return s.legacyPerms, nil
}

func (s *stubRoleSource) ListPermissions(ctx context.Context) ([]catalog.Permission, error) {
	return s.allPerms, nil
}

type stubGrantSource struct {
	names []string
	err   error
}

func (s *stubGrantSource) EffectiveGrantNames(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	return s.names, s.err
}

type stubOverrideSource struct {
	overrides []grants.NamedOverride
}

func (s *stubOverrideSource) Overrides(ctx context.Context, userID int64) ([]grants.NamedOverride, error) {
	return s.overrides, nil
}

func newTestService(t *testing.T, roles *stubRoleSource, grantSrc *stubGrantSource, overrides *stubOverrideSource) (*Service, *Cache, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute, nil)
	svc := NewService(roles, grantSrc, overrides, cache, nil, nil)
	return svc, cache, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestResolvePrecedence(t *testing.T) {
	roleID := int64(3)
	roles := &stubRoleSource{
		role:        catalog.UserRole{UserID: 1, RoleName: "Doctor", RoleID: &roleID},
		rolePerms:   []string{"view-patients", "edit-records"},
		legacyPerms: []string{"view-patients", "order-labs"},
	}
	grantSrc := &stubGrantSource{names: []string{"approve-discharge"}}
	overrides := &stubOverrideSource{overrides: []grants.NamedOverride{
		{PermissionName: "edit-records", Allowed: false},
		{PermissionName: "sign-prescriptions", Allowed: true},
	}}
	svc, _, cleanup := newTestService(t, roles, grantSrc, overrides)
	defer cleanup()

	set, err := svc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"view-patients", "order-labs", "approve-discharge", "sign-prescriptions",
	}, set.Names())
	require.False(t, set.Has("edit-records"), "deny override must win over the role grant")
}

func TestResolveSuperAdminGetsFullCatalog(t *testing.T) {
	roles := &stubRoleSource{
		role: catalog.UserRole{UserID: 9, RoleName: catalog.SuperAdminRole},
		allPerms: []catalog.Permission{
			{Name: "view-patients"},
			{Name: "delete-users"},
			{Name: "system-admin"},
		},
	}
	svc, _, cleanup := newTestService(t, roles, &stubGrantSource{}, &stubOverrideSource{})
	defer cleanup()

	set, err := svc.Resolve(context.Background(), 9)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"view-patients", "delete-users", "system-admin"}, set.Names())

	super, err := svc.IsSuperAdmin(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, super)
}

func TestResolveUsesCacheUntilInvalidated(t *testing.T) {
	roleID := int64(1)
	roles := &stubRoleSource{
		role:      catalog.UserRole{UserID: 4, RoleName: "Nurse", RoleID: &roleID},
		rolePerms: []string{"view-patients"},
	}
	svc, cache, cleanup := newTestService(t, roles, &stubGrantSource{}, &stubOverrideSource{})
	defer cleanup()

	ctx := context.Background()
	_, err := svc.Resolve(ctx, 4)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 1, roles.calls, "second resolve must be served from cache")

	require.NoError(t, cache.Invalidate(ctx, 4))
	_, err = svc.Resolve(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 2, roles.calls)
}

func TestInvalidateAllDropsEveryUser(t *testing.T) {
	roleID := int64(1)
	roles := &stubRoleSource{
		role:      catalog.UserRole{UserID: 5, RoleName: "Nurse", RoleID: &roleID},
		rolePerms: []string{"view-patients"},
	}
	svc, cache, cleanup := newTestService(t, roles, &stubGrantSource{}, &stubOverrideSource{})
	defer cleanup()

	ctx := context.Background()
	_, err := svc.Resolve(ctx, 5)
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateAll(ctx))
	_, err = svc.Resolve(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 2, roles.calls)
}

func TestHasPermissionFailsClosed(t *testing.T) {
	roles := &stubRoleSource{roleErr: errors.New("database down")}
	svc, _, cleanup := newTestService(t, roles, &stubGrantSource{}, &stubOverrideSource{})
	defer cleanup()

	allowed, err := svc.HasPermission(context.Background(), 1, "view-patients")
	require.Error(t, err)
	require.False(t, allowed)
}

func TestResolveUnknownUserDeniesAll(t *testing.T) {
	roles := &stubRoleSource{role: catalog.UserRole{UserID: 7, RoleName: "Unknown Role"}}
	svc, _, cleanup := newTestService(t, roles, &stubGrantSource{}, &stubOverrideSource{})
	defer cleanup()

	set, err := svc.Resolve(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, set.Names())
	require.False(t, set.Has("view-patients"))
}
