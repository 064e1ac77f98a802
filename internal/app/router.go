package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clinicore/clinicore-authz/internal/anomaly"
	"github.com/clinicore/clinicore-authz/internal/audit"
	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/grants"
	"github.com/clinicore/clinicore-authz/internal/monitoring"
	"github.com/clinicore/clinicore-authz/internal/observability"
	"github.com/clinicore/clinicore-authz/internal/requests"
	"github.com/clinicore/clinicore-authz/internal/resolver"
	"github.com/clinicore/clinicore-authz/internal/sod"
	"github.com/clinicore/clinicore-authz/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	CatalogHandler    *catalog.Handler
	GrantsHandler     *grants.Handler
	ResolverHandler   *resolver.Handler
	SodHandler        *sod.Handler
	AuditHandler      *audit.Handler
	RequestsHandler   *requests.Handler
	AnomalyHandler    *anomaly.Handler
	MonitoringHandler *monitoring.Handler
	JobHandler        *jobs.Handler
	SodEnforcer       func(http.Handler) http.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with engine defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.ResolverHandler != nil {
			params.ResolverHandler.MountRoutes(r)
		}

		// Privileged mutations run behind the segregation enforcer.
		r.Group(func(r chi.Router) {
			if params.SodEnforcer != nil {
				r.Use(params.SodEnforcer)
			}
			if params.CatalogHandler != nil {
				params.CatalogHandler.MountRoutes(r)
			}
			if params.GrantsHandler != nil {
				params.GrantsHandler.MountRoutes(r)
			}
			if params.RequestsHandler != nil {
				r.Route("/change-requests", params.RequestsHandler.MountRoutes)
			}
		})

		if params.SodHandler != nil {
			r.Route("/segregation", params.SodHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.AnomalyHandler != nil {
			r.Route("/anomalies", params.AnomalyHandler.MountRoutes)
		}
		if params.MonitoringHandler != nil {
			r.Route("/monitoring", params.MonitoringHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
