package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/metric"
)

const (
	// DefaultPort is the gateway port used when none is configured
	DefaultPort = 12345
	// DefaultMaxBodyBytes bounds POST bodies
	DefaultMaxBodyBytes int64 = 1 << 20
)

// Subscriber starts forwarding a subject. *subscription.Registry implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string) error
}

// Publisher publishes on the bus. *natsclient.Client implements it.
type Publisher interface {
	EnsureConnected(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config configures the gateway server
type Config struct {
	Port         int   // 0 picks a free port
	MaxBodyBytes int64 // <= 0 means DefaultMaxBodyBytes
}

// Server is the loopback HTTP front end of the bridge
type Server struct {
	subscriber   Subscriber
	publisher    Publisher
	addr         string
	maxBodyBytes int64
	logger       *slog.Logger
	metrics      *metric.Metrics

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	shutdown bool
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a gateway bound to 127.0.0.1:cfg.Port
func NewServer(cfg Config, subscriber Subscriber, publisher Publisher, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		subscriber:   subscriber,
		publisher:    publisher,
		addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	return s
}

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.addr))
	}
	return s.Serve(ln)
}

// Serve serves requests accepted on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Serve", "start gateway")
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("gateway listening", "addr", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Serve", "serve gateway")
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx. A server shut down before it started will not start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Shutdown", "wait for in-flight requests")
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
