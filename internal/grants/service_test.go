package grants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

type memoryGrantRepo struct {
	grants    map[int64]TemporaryPermission
	overrides map[[2]int64]Override
	audits    []string
	nextID    int64
}

type memoryGrantTx struct {
	repo *memoryGrantRepo
}

func newMemoryGrantRepo() *memoryGrantRepo {
	return &memoryGrantRepo{
		grants:    make(map[int64]TemporaryPermission),
		overrides: make(map[[2]int64]Override),
	}
}

func (r *memoryGrantRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryGrantTx{repo: r})
}

func (r *memoryGrantRepo) GetGrant(ctx context.Context, id int64) (TemporaryPermission, error) {
	tp, ok := r.grants[id]
	if !ok {
		return TemporaryPermission{}, shared.ErrNotFound
	}
	return tp, nil
}

func (r *memoryGrantRepo) ListUserGrants(ctx context.Context, userID int64) ([]TemporaryPermission, error) {
	var out []TemporaryPermission
	for _, tp := range r.grants {
		if tp.UserID == userID {
			out = append(out, tp)
		}
	}
	return out, nil
}

func (r *memoryGrantRepo) EffectiveGrantNames(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	return nil, nil
}

func (r *memoryGrantRepo) Overrides(ctx context.Context, userID int64) ([]NamedOverride, error) {
	return nil, nil
}

func (r *memoryGrantRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, tp := range r.grants {
		if tp.IsActive && !now.Before(tp.ExpiresAt) {
			tp.IsActive = false
			r.grants[id] = tp
			n++
		}
	}
	return n, nil
}

func (t *memoryGrantTx) InsertGrant(ctx context.Context, tp TemporaryPermission) (TemporaryPermission, error) {
	t.repo.nextID++
	tp.ID = t.repo.nextID
	tp.IsActive = true
	t.repo.grants[tp.ID] = tp
	return tp, nil
}

func (t *memoryGrantTx) DeactivateGrant(ctx context.Context, id int64) (bool, error) {
	tp, ok := t.repo.grants[id]
	if !ok || !tp.IsActive {
		return false, nil
	}
	tp.IsActive = false
	t.repo.grants[id] = tp
	return true, nil
}

func (t *memoryGrantTx) UpsertOverride(ctx context.Context, o Override) error {
	t.repo.overrides[[2]int64{o.UserID, o.PermissionID}] = o
	return nil
}

func (t *memoryGrantTx) DeleteOverride(ctx context.Context, userID, permissionID int64) (bool, error) {
	key := [2]int64{userID, permissionID}
	if _, ok := t.repo.overrides[key]; !ok {
		return false, nil
	}
	delete(t.repo.overrides, key)
	return true, nil
}

func (t *memoryGrantTx) AppendAudit(ctx context.Context, userID int64, actionType string, details map[string]any) error {
	t.repo.audits = append(t.repo.audits, actionType)
	return nil
}

type stubCatalog struct {
	perms map[string]catalog.Permission
	deps  map[int64][]string
}

func (s *stubCatalog) GetPermissionByName(ctx context.Context, name string) (catalog.Permission, error) {
	p, ok := s.perms[name]
	if !ok {
		return catalog.Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (s *stubCatalog) DependencyNames(ctx context.Context, permissionID int64) ([]string, error) {
	return s.deps[permissionID], nil
}

type stubChecker struct {
	held map[string]bool
}

func (s *stubChecker) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return s.held[permission], nil
}

type stubInvalidator struct {
	users []int64
}

func (s *stubInvalidator) Invalidate(ctx context.Context, userID int64) error {
	s.users = append(s.users, userID)
	return nil
}

func testCatalog() *stubCatalog {
	return &stubCatalog{
		perms: map[string]catalog.Permission{
			"edit-records":  {ID: 1, Name: "edit-records"},
			"view-patients": {ID: 2, Name: "view-patients"},
		},
		deps: map[int64][]string{1: {"view-patients"}},
	}
}

func TestGrantRejectsPastExpiry(t *testing.T) {
	svc := NewService(newMemoryGrantRepo(), testCatalog(), &stubChecker{}, nil, nil, PolicyReject)

	_, err := svc.Grant(context.Background(), GrantRequest{
		UserID:         1,
		PermissionName: "view-patients",
		ExpiresAt:      time.Now().UTC().Add(-time.Hour),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantRejectPolicyFailsOnMissingDependency(t *testing.T) {
	repo := newMemoryGrantRepo()
	svc := NewService(repo, testCatalog(), &stubChecker{}, nil, nil, PolicyReject)

	_, err := svc.Grant(context.Background(), GrantRequest{
		UserID:         1,
		PermissionName: "edit-records",
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.grants)
}

func TestGrantRejectPolicyPassesWhenDependencyHeld(t *testing.T) {
	repo := newMemoryGrantRepo()
	checker := &stubChecker{held: map[string]bool{"view-patients": true}}
	svc := NewService(repo, testCatalog(), checker, nil, nil, PolicyReject)

	created, err := svc.Grant(context.Background(), GrantRequest{
		UserID:         1,
		PermissionName: "edit-records",
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.True(t, created[0].IsActive)
}

func TestGrantIncludePolicyGrantsDependencies(t *testing.T) {
	repo := newMemoryGrantRepo()
	cache := &stubInvalidator{}
	svc := NewService(repo, testCatalog(), &stubChecker{}, cache, nil, PolicyInclude)

	created, err := svc.Grant(context.Background(), GrantRequest{
		UserID:         1,
		PermissionName: "edit-records",
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, created, 2, "dependency must be granted alongside")
	require.Equal(t, []int64{1}, cache.users, "grant must invalidate the user's cached set")
	require.Contains(t, repo.audits, ActionGrantTemporary)
}

func TestRevokeIsIdempotent(t *testing.T) {
	repo := newMemoryGrantRepo()
	svc := NewService(repo, testCatalog(), &stubChecker{held: map[string]bool{"view-patients": true}}, nil, nil, PolicyReject)

	created, err := svc.Grant(context.Background(), GrantRequest{
		UserID:         1,
		PermissionName: "view-patients",
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), created[0].ID, 99))
	require.False(t, repo.grants[created[0].ID].IsActive)

	// Second revoke is a no-op, not an error.
	require.NoError(t, svc.Revoke(context.Background(), created[0].ID, 99))
}

func TestSetAndClearOverride(t *testing.T) {
	repo := newMemoryGrantRepo()
	svc := NewService(repo, testCatalog(), &stubChecker{}, nil, nil, PolicyReject)

	require.NoError(t, svc.SetOverride(context.Background(), 1, "edit-records", false, 99))
	require.Len(t, repo.overrides, 1)
	require.False(t, repo.overrides[[2]int64{1, 1}].Allowed)

	require.NoError(t, svc.ClearOverride(context.Background(), 1, "edit-records", 99))
	require.Empty(t, repo.overrides)
}

func TestSweepExpiredFlipsOnlyLapsedRows(t *testing.T) {
	repo := newMemoryGrantRepo()
	now := time.Now().UTC()
	repo.grants[1] = TemporaryPermission{ID: 1, UserID: 1, PermissionID: 2, ExpiresAt: now.Add(-time.Minute), IsActive: true}
	repo.grants[2] = TemporaryPermission{ID: 2, UserID: 1, PermissionID: 2, ExpiresAt: now.Add(time.Hour), IsActive: true}
	svc := NewService(repo, testCatalog(), &stubChecker{}, nil, nil, PolicyReject)

	n, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.False(t, repo.grants[1].IsActive)
	require.True(t, repo.grants[2].IsActive)
}

func TestIsEffectiveHonorsExpiryAndActivity(t *testing.T) {
	now := time.Now().UTC()
	live := TemporaryPermission{IsActive: true, ExpiresAt: now.Add(time.Minute)}
	lapsed := TemporaryPermission{IsActive: true, ExpiresAt: now.Add(-time.Minute)}
	revoked := TemporaryPermission{IsActive: false, ExpiresAt: now.Add(time.Minute)}

	require.True(t, IsEffective(live, now))
	require.False(t, IsEffective(lapsed, now))
	require.False(t, IsEffective(revoked, now))
}
