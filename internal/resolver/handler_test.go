package resolver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

type countingDenies struct {
	denied int
}

func (c *countingDenies) CheckDenied() { c.denied++ }

func newTestRouter(t *testing.T, roles *stubRoleSource, denies DenyCounter) (chi.Router, func()) {
	t.Helper()
	svc, _, cleanup := newTestService(t, roles, &stubGrantSource{}, &stubOverrideSource{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, svc, denies).MountRoutes(r)
	return r, cleanup
}

func TestListUserPermissionsEndpoint(t *testing.T) {
	roleID := int64(1)
	roles := &stubRoleSource{
		role:      catalog.UserRole{UserID: 3, RoleName: "Nurse", RoleID: &roleID},
		rolePerms: []string{"view-patients", "record-vitals"},
	}
	router, cleanup := newTestRouter(t, roles, nil)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/3/permissions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID      int64    `json:"user_id"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(3), body.UserID)
	require.ElementsMatch(t, []string{"view-patients", "record-vitals"}, body.Permissions)
}

func TestListUserPermissionsRejectsBadID(t *testing.T) {
	router, cleanup := newTestRouter(t, &stubRoleSource{}, nil)
	defer cleanup()

	for _, path := range []string{"/users/abc/permissions", "/users/-1/permissions"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestCheckPermissionEndpoint(t *testing.T) {
	roleID := int64(1)
	roles := &stubRoleSource{
		role:      catalog.UserRole{UserID: 3, RoleName: "Nurse", RoleID: &roleID},
		rolePerms: []string{"view-patients"},
	}
	denies := &countingDenies{}
	router, cleanup := newTestRouter(t, roles, denies)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/3/permissions/check?permission=view-patients", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Allowed)
	require.Zero(t, denies.denied)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/3/permissions/check?permission=delete-users", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Allowed)
	require.Equal(t, 1, denies.denied)
}

func TestCheckPermissionRequiresQueryParam(t *testing.T) {
	router, cleanup := newTestRouter(t, &stubRoleSource{}, nil)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/3/permissions/check", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckPermissionFailsClosedOnResolverError(t *testing.T) {
	roles := &stubRoleSource{roleErr: errors.New("database down")}
	router, cleanup := newTestRouter(t, roles, nil)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/3/permissions/check?permission=view-patients", nil))
	require.GreaterOrEqual(t, rec.Code, http.StatusInternalServerError)
}

func TestOwnPermissionsRequireIdentity(t *testing.T) {
	roleID := int64(1)
	roles := &stubRoleSource{
		role:      catalog.UserRole{UserID: 4, RoleName: "Nurse", RoleID: &roleID},
		rolePerms: []string{"view-patients"},
	}
	router, cleanup := newTestRouter(t, roles, nil)
	defer cleanup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me/permissions", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: 4}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
