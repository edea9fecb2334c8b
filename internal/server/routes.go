package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beamcast/beamcast/internal/config"
	"github.com/beamcast/beamcast/internal/gateway"
	"github.com/beamcast/beamcast/internal/metrics"
	"github.com/beamcast/beamcast/internal/recording"
)

// Server wires the HTTP surface: the websocket endpoint, health, metrics
// and the recording collaborator endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the HTTP server from its handlers.
func New(cfg *config.Config, gw *gateway.Gateway, rec *recording.Handlers, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WSPath, gw.ServeWS)
	mux.HandleFunc("/health", handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler(gatherer))
	}
	rec.Register(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.ListenAddr(),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks serving requests until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("signaling server is healthy."))
}
