package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/health"
)

// HealthFunc reports the current bridge health for /health
type HealthFunc func() health.Status

// Server exposes /metrics and /health on a loopback listener
type Server struct {
	addr     string
	registry *MetricsRegistry
	healthFn HealthFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server bound to 127.0.0.1:port.
// Port 0 picks a free port.
func NewServer(port int, registry *MetricsRegistry, healthFn HealthFunc) *Server {
	return &Server{
		addr:     fmt.Sprintf("127.0.0.1:%d", port),
		registry: registry,
		healthFn: healthFn,
	}
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := health.NewHealthy("natsbridge", "ok")
	if s.healthFn != nil {
		status = s.healthFn()
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "metrics registry not provided")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.addr))
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.listener = ln

	go func() {
		_ = srv.Serve(ln)
	}()
	return nil
}

// Shutdown stops the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Shutdown", "stop metrics server")
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
