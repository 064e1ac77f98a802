package sod

import (
	"log/slog"
	"net/http"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Middleware blocks privileged requests whose actor carries a critical
// segregation violation. Non-critical violations are logged and allowed.
type Middleware struct {
	Checker *Checker
	Logger  *slog.Logger
}

// Enforce wraps a handler with the segregation check.
func (m Middleware) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		if identity.IsSuperAdmin() {
			next.ServeHTTP(w, r)
			return
		}
		violations, err := m.Checker.CheckViolations(r.Context(), identity.GetID())
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("sod: check failed", slog.Int64("user_id", identity.GetID()), slog.Any("error", err))
			}
			// Fail closed on storage errors.
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		for _, v := range violations {
			if v.Blocking() {
				if m.Logger != nil {
					m.Logger.Warn("sod: blocking critical violation",
						slog.Int64("user_id", v.UserID),
						slog.String("permission_a", v.PermissionA),
						slog.String("permission_b", v.PermissionB),
					)
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("sod: violation observed",
					slog.Int64("user_id", v.UserID),
					slog.String("severity", v.Severity),
					slog.String("permission_a", v.PermissionA),
					slog.String("permission_b", v.PermissionB),
				)
			}
		}
		next.ServeHTTP(w, r)
	})
}
