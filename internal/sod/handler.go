package sod

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clinicore/clinicore-authz/internal/platform/httpx"
)

// Handler manages segregation-rule endpoints.
type Handler struct {
	logger    *slog.Logger
	checker   *Checker
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, checker *Checker) *Handler {
	return &Handler{logger: logger, checker: checker, validator: validator.New()}
}

// MountRoutes registers segregation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rules", h.listRules)
	r.Post("/rules", h.addRule)
	r.Delete("/rules/{id}", h.removeRule)
	r.Get("/users/{userID}/violations", h.checkViolations)
}

type ruleRequest struct {
	PermissionA string `json:"permission_a" validate:"required"`
	PermissionB string `json:"permission_b" validate:"required"`
	Severity    string `json:"severity" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.checker.ListRules(r.Context())
	if err != nil {
		h.logger.Error("list segregation rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) addRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rule, err := h.checker.AddRule(r.Context(), Rule{
		PermissionA: req.PermissionA,
		PermissionB: req.PermissionB,
		Severity:    req.Severity,
		Description: req.Description,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) removeRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return
	}
	if err := h.checker.RemoveRule(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkViolations(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a positive integer")
		return
	}
	violations, err := h.checker.CheckViolations(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	blocking := false
	for _, v := range violations {
		if v.Blocking() {
			blocking = true
			break
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"violations": violations,
		"blocking":   blocking,
	})
}
