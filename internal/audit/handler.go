package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinicore/clinicore-authz/internal/platform/httpx"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Handler manages audit trail endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.startSession)
	r.Post("/actions", h.recordAction)
	r.Get("/users/{userID}/actions", h.listUserActions)
}

type actionRequest struct {
	SessionID  string         `json:"session_id"`
	ActionType string         `json:"action_type" validate:"required"`
	Details    map[string]any `json:"details"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	sess, err := h.service.StartSession(r.Context(), identity.GetID(), identity.IPAddress, identity.UserAgent)
	if err != nil {
		h.logger.Error("start session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) recordAction(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity headers")
		return
	}
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var sessionID *uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "session_id must be a UUID")
			return
		}
		sessionID = &id
	}
	if err := h.service.RecordAction(r.Context(), sessionID, identity.GetID(), req.ActionType, req.Details); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) listUserActions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}
	actions, err := h.service.UserActions(r.Context(), userID, window)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "actions": actions})
}
