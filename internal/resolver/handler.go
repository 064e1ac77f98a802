package resolver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/clinicore-authz/internal/platform/httpx"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// DenyCounter observes denied permission checks.
type DenyCounter interface {
	CheckDenied()
}

// Handler exposes permission resolution endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	denies  DenyCounter
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, denies DenyCounter) *Handler {
	return &Handler{logger: logger, service: service, denies: denies}
}

// MountRoutes registers resolution routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users/{userID}/permissions", h.listUserPermissions)
	r.Get("/users/{userID}/permissions/check", h.checkPermission)
	r.Get("/me/permissions", h.listOwnPermissions)
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	h.respondPermissions(w, r, userID)
}

func (h *Handler) listOwnPermissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	h.respondPermissions(w, r, identity.GetID())
}

func (h *Handler) respondPermissions(w http.ResponseWriter, r *http.Request, userID int64) {
	set, err := h.service.Resolve(r.Context(), userID)
	if err != nil {
		h.logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": set.Names(),
	})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	permission := strings.TrimSpace(r.URL.Query().Get("permission"))
	if permission == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission query parameter required")
		return
	}
	allowed, err := h.service.HasPermission(r.Context(), userID, permission)
	if err != nil {
		// Fail closed: report the denial alongside the failure status.
		h.logger.Error("permission check failed",
			slog.Int64("user_id", userID),
			slog.String("permission", permission),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !allowed && h.denies != nil {
		h.denies.CheckDenied()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"permission": permission,
		"allowed":    allowed,
	})
}
