package anomaly

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/clinicore-authz/internal/platform/httpx"
)

// Handler exposes anomaly detection endpoints.
type Handler struct {
	logger   *slog.Logger
	detector *Detector
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, detector *Detector) *Handler {
	return &Handler{logger: logger, detector: detector}
}

// MountRoutes registers anomaly routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.detect)
	r.Get("/stats", h.stats)
}

func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.detector.Detect(r.Context(), time.Time{})
	if err != nil {
		// Partial results still go out; the flag tells the dashboard some
		// checks did not run.
		h.logger.Error("anomaly detection incomplete", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"anomalies": anomalies,
		"partial":   err != nil,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.detector.GetStats(r.Context(), time.Time{})
	if err != nil {
		h.logger.Error("anomaly stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
