package grants

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clinicore/clinicore-authz/internal/platform/httpx"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Handler manages temporary-permission and override endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers grant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/grants", h.grant)
	r.Delete("/grants/{id}", h.revoke)
	r.Get("/users/{userID}/grants", h.listUserGrants)
	r.Put("/users/{userID}/overrides", h.setOverride)
	r.Delete("/users/{userID}/overrides/{permission}", h.clearOverride)
}

type grantRequest struct {
	UserID     int64  `json:"user_id" validate:"required,gt=0"`
	Permission string `json:"permission" validate:"required"`
	ExpiresAt  string `json:"expires_at" validate:"required"`
	Reason     string `json:"reason"`
}

type overrideRequest struct {
	Permission string `json:"permission" validate:"required"`
	Allowed    *bool  `json:"allowed" validate:"required"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expires_at must be RFC3339")
		return
	}
	created, err := h.service.Grant(r.Context(), GrantRequest{
		UserID:         req.UserID,
		PermissionName: req.Permission,
		GrantedBy:      identity.GetID(),
		ExpiresAt:      expiresAt,
		Reason:         req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("temporary permission granted",
		slog.Int64("user_id", req.UserID),
		slog.String("permission", req.Permission),
		slog.Int64("granted_by", identity.GetID()),
		slog.Int("grants", len(created)))
	httpx.JSON(w, http.StatusCreated, map[string]any{"grants": created})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	if err := h.service.Revoke(r.Context(), id, identity.GetID()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	list, err := h.service.ListUserGrants(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "grants": list})
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	var req overrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetOverride(r.Context(), userID, req.Permission, *req.Allowed, identity.GetID()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearOverride(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	permission := chi.URLParam(r, "permission")
	if err := h.service.ClearOverride(r.Context(), userID, permission, identity.GetID()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
