package handlers

import (
	"net/http"

	httperr "github.com/dropDatabas3/aulaflow/internal/http/errors"
	"github.com/dropDatabas3/aulaflow/internal/http/middlewares"
)

// TenantDBPing responde GET /v1/db/ping sobre la base del tenant resuelto.
// Sirve como smoke test del camino completo: resolución, directorio,
// pool y conexión efectiva a la base del tenant.
func TenantDBPing(w http.ResponseWriter, r *http.Request) {
	tc := middlewares.MustGetTenant(r.Context())

	if err := tc.Lease.Store().Ping(r.Context()); err != nil {
		httperr.WriteError(w, httperr.ErrServiceUnavailable.WithCause(err))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"tenant":   tc.Tenant.Slug,
		"database": tc.Tenant.DatabaseName,
		"source":   string(tc.Source),
		"status":   "ok",
	})
}
