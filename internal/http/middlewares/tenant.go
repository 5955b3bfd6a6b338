package middlewares

import (
	"context"
	"errors"
	"net/http"

	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/directory"
	httperr "github.com/dropDatabas3/aulaflow/internal/http/errors"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
	"github.com/dropDatabas3/aulaflow/internal/tenant"
)

// =================================================================================
// TENANT MIDDLEWARE
// =================================================================================

// Directory es lo que el middleware necesita del directorio de tenants.
type Directory interface {
	Lookup(ctx context.Context, key string) (*controlplane.Tenant, error)
}

// PoolManager es lo que el middleware necesita del manager de pools.
type PoolManager interface {
	Acquire(ctx context.Context, t *controlplane.Tenant) (*tenantsql.Lease, error)
}

// WithTenant resuelve el tenant del request, verifica su estado, adquiere
// un lease sobre su pool y deja todo en el contexto como TenantContext.
// El lease se libera cuando el handler termina, pase lo que pase.
//
// Mapeo de errores:
//
//	sin clave               -> 400 MISSING_TENANT
//	clave malformada        -> 400 INVALID_TENANT_KEY
//	tenant inexistente      -> 404 TENANT_NOT_FOUND
//	tenant suspendido       -> 403 TENANT_SUSPENDED
//	pool no construible     -> 503 POOL_CONSTRUCTION_FAILED
//	techo de pools saturado -> 503 POOL_CEILING_TIMEOUT
func WithTenant(rv *tenant.Resolver, dir Directory, pools PoolManager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.From(ctx)

			res, err := rv.Resolve(r)
			if err != nil {
				switch {
				case errors.Is(err, tenant.ErrNoTenantKey):
					httperr.WriteError(w, httperr.ErrMissingTenant)
				default:
					httperr.WriteError(w, httperr.ErrInvalidTenantKey)
				}
				return
			}

			t, err := dir.Lookup(ctx, res.Key)
			if err != nil {
				switch {
				case errors.Is(err, directory.ErrTenantNotFound):
					httperr.WriteError(w, httperr.ErrTenantNotFound)
				case errors.Is(err, directory.ErrTenantSuspended):
					log.Warn("request a tenant suspendido",
						logger.TenantSlug(t.Slug),
						logger.Source(string(res.Source)),
					)
					httperr.WriteError(w, httperr.ErrTenantSuspended)
				default:
					log.Error("lookup de tenant falló", logger.Key(res.Key), logger.Err(err))
					httperr.WriteError(w, httperr.ErrServiceUnavailable.WithCause(err))
				}
				return
			}

			lease, err := pools.Acquire(ctx, t)
			if err != nil {
				switch {
				case errors.Is(err, tenantsql.ErrCeilingTimeout):
					log.Warn("techo de pools saturado", logger.TenantSlug(t.Slug))
					httperr.WriteError(w, httperr.ErrPoolCeilingTimeout)
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
					// el cliente se fue; no hay a quién responder con gracia
					httperr.WriteError(w, httperr.ErrServiceUnavailable)
				default:
					log.Error("construcción de pool falló",
						logger.TenantSlug(t.Slug),
						logger.Err(err),
					)
					httperr.WriteError(w, httperr.ErrPoolConstructionFailed.WithCause(err))
				}
				return
			}
			defer lease.Release()

			tc := &TenantContext{Tenant: t, Source: res.Source, Lease: lease}
			reqLog := log.With(
				logger.TenantSlug(t.Slug),
				logger.TenantID(t.ID),
				logger.Source(string(res.Source)),
			)
			ctx = logger.ToContext(withTenant(ctx, tc), reqLog)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
