package monitoring

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clinicore/clinicore-authz/internal/platform/httpx"
)

// Handler exposes monitoring endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers monitoring routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/metrics", h.logMetric)
	r.Get("/alerts", h.recentAlerts)
	r.Get("/health", h.status)
	r.Post("/health/check", h.runChecks)
}

type metricRequest struct {
	Type     string         `json:"type" validate:"required"`
	Value    float64        `json:"value"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) logMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.LogMetric(r.Context(), req.Type, req.Value, req.Metadata); err != nil {
		h.logger.Error("log metric", slog.String("type", req.Type), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) recentAlerts(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}
	alerts, err := h.service.RecentAlerts(r.Context(), window)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	checks, err := h.service.Status(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	overall := StatusHealthy
	for _, hc := range checks {
		if hc.Status == StatusCritical {
			overall = StatusCritical
			break
		}
		if hc.Status == StatusWarning {
			overall = StatusWarning
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": overall, "components": checks})
}

func (h *Handler) runChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := h.service.CheckHealth(r.Context())
	if err != nil {
		h.logger.Error("health check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"components": checks})
}
