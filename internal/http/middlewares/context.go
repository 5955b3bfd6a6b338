package middlewares

import (
	"context"

	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/tenant"
)

// =================================================================================
// CONTEXT KEYS
// =================================================================================

type ctxKey string

const (
	// ctxTenantKey guarda el TenantContext armado por WithTenant
	ctxTenantKey ctxKey = "tenant"
	// ctxRequestIDKey guarda el request ID
	ctxRequestIDKey ctxKey = "request_id"
)

// TenantContext es lo que un handler de negocio recibe: el registro del
// tenant, cómo se resolvió y el lease sobre su pool de base de datos.
type TenantContext struct {
	Tenant *controlplane.Tenant
	Source tenant.Source
	Lease  *tenantsql.Lease
}

// =================================================================================
// CONTEXT SETTERS (Internos, usados por middlewares)
// =================================================================================

func withTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, ctxTenantKey, tc)
}

// setRequestID inyecta el request ID en el contexto (interno)
func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// =================================================================================
// CONTEXT GETTERS (Públicos, usados por handlers)
// =================================================================================

// GetTenant obtiene el TenantContext del contexto.
// Retorna nil si no hay tenant (middleware no aplicado o ruta sin tenant).
func GetTenant(ctx context.Context) *TenantContext {
	if v := ctx.Value(ctxTenantKey); v != nil {
		if tc, ok := v.(*TenantContext); ok {
			return tc
		}
	}
	return nil
}

// MustGetTenant obtiene el TenantContext o hace panic.
// Usar solo en rutas donde WithTenant SIEMPRE se aplica.
func MustGetTenant(ctx context.Context) *TenantContext {
	tc := GetTenant(ctx)
	if tc == nil {
		panic("middlewares: no tenant in context")
	}
	return tc
}

// GetRequestID obtiene el request ID del contexto.
// Retorna cadena vacía si no hay request ID.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(ctxRequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
