package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/audit"
	"github.com/herald-labs/herald/internal/auth"
	"github.com/herald-labs/herald/internal/invite"
	"github.com/herald-labs/herald/internal/observability"
	"github.com/herald-labs/herald/internal/relay"
	"github.com/herald-labs/herald/internal/shared"
	"github.com/herald-labs/herald/internal/token"
	"github.com/herald-labs/herald/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Verifier *auth.Verifier

	TokenHandler  *token.Handler
	AccessHandler *access.Handler
	InviteHandler *invite.Handler
	AuditHandler  *audit.Handler
	RelayHandler  *relay.Handler
	Guard         *token.Guard

	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with Herald defaults.
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
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// User-facing management surface, JWT sessions only.
		r.Group(func(r chi.Router) {
			r.Use(params.Verifier.Middleware)
			params.TokenHandler.MountRoutes(r)
			params.AccessHandler.MountRoutes(r)
			params.InviteHandler.MountRoutes(r)
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				params.JobHandler.MountAdminRoutes(r)
			}
		})

		// Machine-facing relay surface, system tokens only.
		if params.RelayHandler != nil && params.Guard != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.Guard.Require(shared.ScopeRelayForward))
				params.RelayHandler.MountRoutes(r)
			})
		}
	})

	return r
}
