package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rolegate/rolegate/internal/authz"
	"github.com/rolegate/rolegate/internal/jobs"
	"github.com/rolegate/rolegate/internal/observability"
	rbachttp "github.com/rolegate/rolegate/internal/rbac/http"
	"github.com/rolegate/rolegate/internal/setup"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Auth         *authz.Middleware
	SetupHandler *setup.Handler
	RBACHandler  *rbachttp.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router. Health and metrics stay open; the
// setup surface needs only an authenticated session; the admin surface needs
// the super role; the delegated surface needs the admin role named in the
// path.
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

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.Auth.Authenticate)

		r.Route("/setup", params.SetupHandler.MountRoutes)

		r.Route("/admin", func(r chi.Router) {
			r.Use(params.Auth.RequireSuper)
			params.RBACHandler.MountAdminRoutes(r)
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})

		r.Route("/sub/{type}", func(r chi.Router) {
			r.Use(params.Auth.RequireAdminType)
			params.RBACHandler.MountSubRoutes(r)
		})
	})

	return r
}
