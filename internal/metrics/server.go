package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// Server serves /metrics and /healthz on a dedicated address.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a metrics server for m listening on addr.
func NewServer(addr string, m *Metrics, logger *slog.Logger) (*Server, error) {
	if addr == "" {
		return nil, fmt.Errorf("metrics address is required")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics are required for the metrics server")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		logger: logger,
	}, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting metrics server.", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down metrics server.")
	return s.httpServer.Shutdown(ctx)
}
