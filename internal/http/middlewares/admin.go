package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/aulaflow/internal/http/errors"
	"github.com/dropDatabas3/aulaflow/internal/security/apikey"
)

// =================================================================================
// ADMIN MIDDLEWARE
// =================================================================================

// RequireAPIKey protege la Admin API con una API key estática.
// El cliente manda la key en claro por X-Admin-API-Key; acá solo se
// guarda el hash argon2id (formato PHC), nunca la key.
func RequireAPIKey(phcHash string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(phcHash) == "" {
				// Sin hash configurado la Admin API queda cerrada, no abierta.
				errors.WriteError(w, errors.ErrInvalidAPIKey.WithDetail("admin api deshabilitada"))
				return
			}

			key := strings.TrimSpace(r.Header.Get("X-Admin-API-Key"))
			if key == "" || !apikey.Verify(key, phcHash) {
				errors.WriteError(w, errors.ErrInvalidAPIKey)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
