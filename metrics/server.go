package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether the process is healthy. A non-nil error turns
// /healthz into a 503 carrying the error text.
type HealthCheck func(ctx context.Context) error

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	gatherer prometheus.Gatherer
	health   HealthCheck
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(c *serverConfig) { c.gatherer = g }
}

// WithHealthCheck sets the check behind /healthz.
func WithHealthCheck(h HealthCheck) ServerOption {
	return func(c *serverConfig) { c.health = h }
}

// Server exposes /metrics and /healthz for a host process that has no HTTP
// surface of its own.
type Server struct {
	server *http.Server
	errs   chan error
}

// NewServer creates a metrics server listening on addr, e.g. ":9090".
func NewServer(addr string, opts ...ServerOption) *Server {
	cfg := serverConfig{gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&cfg)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.health != nil {
			if err := cfg.health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		errs: make(chan error, 1),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens in the background. A listen or serve failure is delivered on
// Errors.
func (s *Server) Start() {
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()
}

// Errors delivers at most one fatal server error.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
