package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aulaflow/internal/directory"
	"github.com/dropDatabas3/aulaflow/internal/http/handlers"
	"github.com/dropDatabas3/aulaflow/internal/http/middlewares"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/tenant"
)

// RouterDeps agrupa todo lo que el router necesita ya construido.
type RouterDeps struct {
	Resolver  *tenant.Resolver
	Directory *directory.Directory
	Pools     *tenantsql.Manager

	Health       *handlers.Health
	AdminTenants *handlers.AdminTenants

	// AdminAPIKeyHash hash argon2id (PHC) de la API key de administración.
	AdminAPIKeyHash string

	// Metrics handler para GET /metrics (puede ser nil).
	Metrics stdhttp.Handler
}

// NewRouter arma el router completo del servicio.
//
// Tres superficies:
//   - operacional (/healthz, /readyz, /metrics): sin tenant, sin auth
//   - admin (/v1/admin/...): API key, sin tenant
//   - data-plane (/v1/...): tenant resuelto y pool adquirido por request
func NewRouter(deps RouterDeps) stdhttp.Handler {
	r := chi.NewRouter()

	// ===========================================================================
	// Operacional
	// ===========================================================================
	r.Get("/healthz", deps.Health.Liveness)
	r.Get("/readyz", deps.Health.Readiness)
	if deps.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", deps.Metrics)
	}

	// ===========================================================================
	// Admin API (control-plane)
	// ===========================================================================
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(chiMiddleware(middlewares.RequireAPIKey(deps.AdminAPIKeyHash)))

		r.Get("/tenants", deps.AdminTenants.List)
		r.Post("/tenants", deps.AdminTenants.Create)
		r.Get("/tenants/{key}", deps.AdminTenants.Get)
		r.Post("/tenants/{key}/suspend", deps.AdminTenants.Suspend)
		r.Post("/tenants/{key}/activate", deps.AdminTenants.Activate)
		r.Delete("/tenants/{key}", deps.AdminTenants.Delete)
	})

	// ===========================================================================
	// Data-plane (todo lo que corre contra la base del tenant)
	// ===========================================================================
	r.Route("/v1", func(r chi.Router) {
		r.Use(chiMiddleware(middlewares.WithTenant(deps.Resolver, deps.Directory, deps.Pools)))

		r.Get("/db/ping", handlers.TenantDBPing)
	})

	// Cadena externa: request id -> metrics -> logging -> recover -> router
	return middlewares.Chain(r,
		middlewares.WithRequestID(),
		WithMetrics,
		middlewares.WithLogging(),
		middlewares.WithRecover(),
	)
}

// chiMiddleware adapta nuestro tipo Middleware al de chi.
func chiMiddleware(mw middlewares.Middleware) func(stdhttp.Handler) stdhttp.Handler {
	return func(next stdhttp.Handler) stdhttp.Handler { return mw(next) }
}
