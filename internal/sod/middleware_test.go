package sod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/resolver"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

func enforcedRequest(t *testing.T, mw Middleware, identity *shared.Identity) *httptest.ResponseRecorder {
	t.Helper()
	var reached bool
	handler := mw.Enforce(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/grants", nil)
	if identity != nil {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), *identity))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusNoContent {
		require.True(t, reached)
	}
	return rec
}

func TestEnforceRejectsMissingIdentity(t *testing.T) {
	mw := Middleware{Checker: NewChecker(newMemoryRuleRepo(), &stubResolver{})}

	rec := enforcedRequest(t, mw, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnforceBlocksCriticalViolation(t *testing.T) {
	repo := newMemoryRuleRepo()
	res := &stubResolver{sets: map[int64]resolver.PermissionSet{
		1: resolver.NewPermissionSet("prescribe-medication", "dispense-medication"),
	}}
	checker := NewChecker(repo, res)
	_, err := checker.AddRule(context.Background(), Rule{
		PermissionA: "prescribe-medication",
		PermissionB: "dispense-medication",
		Severity:    SeverityCritical,
	})
	require.NoError(t, err)

	rec := enforcedRequest(t, Middleware{Checker: checker}, &shared.Identity{UserID: 1})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnforceAllowsNonBlockingViolation(t *testing.T) {
	repo := newMemoryRuleRepo()
	res := &stubResolver{sets: map[int64]resolver.PermissionSet{
		1: resolver.NewPermissionSet("prescribe-medication", "dispense-medication"),
	}}
	checker := NewChecker(repo, res)
	_, err := checker.AddRule(context.Background(), Rule{
		PermissionA: "prescribe-medication",
		PermissionB: "dispense-medication",
		Severity:    SeverityMedium,
	})
	require.NoError(t, err)

	rec := enforcedRequest(t, Middleware{Checker: checker}, &shared.Identity{UserID: 1})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEnforceSkipsSuperAdmin(t *testing.T) {
	mw := Middleware{Checker: NewChecker(newMemoryRuleRepo(), &stubResolver{})}

	rec := enforcedRequest(t, mw, &shared.Identity{UserID: 9, SuperAdmin: true})
	require.Equal(t, http.StatusNoContent, rec.Code)
}
