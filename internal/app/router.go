package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/atelier-ops/atelier/internal/audit/http"
	"github.com/atelier-ops/atelier/internal/auth"
	"github.com/atelier-ops/atelier/internal/costlib"
	"github.com/atelier-ops/atelier/internal/observability"
	"github.com/atelier-ops/atelier/internal/platform/httpx"
	"github.com/atelier-ops/atelier/internal/quotes"
	"github.com/atelier-ops/atelier/internal/rbac"
	"github.com/atelier-ops/atelier/internal/shared"
	"github.com/atelier-ops/atelier/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Sessions       auth.PrincipalLookup
	RBACMiddleware rbac.Middleware
	QuotesHandler  *quotes.Handler
	CostLibHandler *costlib.Handler
	JobHandler     *jobs.Handler
	AuditHandler   *audithttp.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with studio defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.QuotesHandler != nil {
		r.Route("/quotes", params.QuotesHandler.MountRoutes)
	}
	if params.CostLibHandler != nil {
		r.Route("/cost-library", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAuthenticated)
			params.CostLibHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAny(shared.RoleAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}

	if params.AuditHandler != nil {
		r.Route("/audit", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAny(shared.RoleAdmin))
			params.AuditHandler.MountRoutes(r)
		})
	}

	return r
}
