package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics and /health on its own listener, independent
// of any application router (the spec treats HTTP transport as an
// external collaborator; this is the one exception carried from the
// teacher's ambient metrics stack).
type Server struct {
	server *http.Server
	log    *zap.Logger
}

// NewServer builds a metrics server bound to ":port".
func NewServer(port string, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync starts serving in a background goroutine, logging (not
// panicking) on any error other than a clean shutdown.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down, respecting ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
