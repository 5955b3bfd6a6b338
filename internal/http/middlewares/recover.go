package middlewares

import (
	"net/http"
	"runtime/debug"

	httperr "github.com/dropDatabas3/aulaflow/internal/http/errors"
	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
)

// WithRecover atrapa panics del handler y responde 500 en vez de tirar
// abajo la conexión. El stack se loguea, nunca se expone al cliente.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recuperado",
						logger.Any("panic", rec),
						logger.String("stack", string(debug.Stack())),
					)
					httperr.WriteError(w, httperr.ErrInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
