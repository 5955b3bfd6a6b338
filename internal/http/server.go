package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
)

// Server envuelve http.Server con arranque y apagado ordenado.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer construye el servidor HTTP con los timeouts de la config.
func NewServer(addr string, handler http.Handler, readTO, writeTO, shutdownTO time.Duration) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTO,
			WriteTimeout: writeTO,
		},
		shutdownTimeout: shutdownTO,
	}
}

// Start bloquea sirviendo requests hasta Shutdown o error fatal.
func (s *Server) Start() error {
	logger.Named("http").Info("servidor escuchando", logger.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown deja de aceptar conexiones y espera a los requests en vuelo
// hasta el timeout configurado.
func (s *Server) Shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(sctx)
}
