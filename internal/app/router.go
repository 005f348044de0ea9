package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/medzillo/medzillo/internal/allocation"
	"github.com/medzillo/medzillo/internal/auth"
	"github.com/medzillo/medzillo/internal/billing"
	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/observability"
	"github.com/medzillo/medzillo/jobs"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Verifier          *auth.Verifier
	BillingHandler    *billing.Handler
	InventoryHandler  *inventory.Handler
	AllocationHandler *allocation.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	Health            HealthCheck
}

// NewRouter constructs the chi.Router with the API defaults.
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
		if params.Health != nil {
			if err := params.Health(r); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.Verifier.Middleware)
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		r.Route("/medicines", func(r chi.Router) {
			if params.InventoryHandler != nil {
				params.InventoryHandler.MountRoutes(r)
			}
			if params.AllocationHandler != nil {
				params.AllocationHandler.MountRoutes(r)
			}
		})
	})

	return r
}
