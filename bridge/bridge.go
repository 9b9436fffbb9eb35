package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/natsbridge/config"
	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/gateway"
	"github.com/c360/natsbridge/health"
	"github.com/c360/natsbridge/metric"
	"github.com/c360/natsbridge/natsclient"
	"github.com/c360/natsbridge/pkg/tlsutil"
	"github.com/c360/natsbridge/sink"
	"github.com/c360/natsbridge/subscription"
)

// Status represents the lifecycle state of a Bridge
type Status int

// Possible bridge statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const defaultShutdownTimeout = 30 * time.Second

// Option is a functional option for configuring a Bridge
type Option func(*Bridge)

// WithLogger sets the logger shared by every bridge component
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records bridge metrics in m
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithShutdownTimeout bounds the shutdown Run performs when its context ends
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// Bridge owns the NATS connection, the subscription registry, the gateway
// and the output sink, and shuts them down in order.
type Bridge struct {
	cfg             *config.Config
	logger          *slog.Logger
	metrics         *metric.Metrics
	shutdownTimeout time.Duration

	client   *natsclient.Client
	registry *subscription.Registry
	gateway  *gateway.Server
	out      sink.Sink

	// closeBus closes the NATS connection during shutdown
	closeBus func(context.Context) error

	status  atomic.Value // Status
	addr    atomic.Value // string, bound gateway address
	started atomic.Bool
	ready   chan struct{}
	done    chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a bridge from cfg. No connection is attempted until Run.
// The bridge takes ownership of out and closes it on shutdown.
func New(cfg *config.Config, out sink.Sink, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "check config")
	}
	if out == nil {
		out = sink.Discard
	}

	b := &Bridge{
		cfg:             cfg,
		out:             out,
		logger:          slog.Default(),
		shutdownTimeout: defaultShutdownTimeout,
		ready:           make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.status.Store(StatusStopped)

	clientOpts := []natsclient.ClientOption{
		natsclient.WithLogger(b.logger),
		natsclient.WithMetrics(b.metrics),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Std()),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()),
		natsclient.WithPingInterval(cfg.NATS.PingInterval.Std()),
	}
	if cfg.NATS.Name != "" {
		clientOpts = append(clientOpts, natsclient.WithName(cfg.NATS.Name))
	}
	if cfg.NATS.CredsFile != "" {
		clientOpts = append(clientOpts, natsclient.WithCredsFile(cfg.NATS.CredsFile))
	}
	if cfg.NATS.TLS.Enabled() {
		tlsCfg, err := tlsutil.LoadClientConfig(cfg.NATS.TLS)
		if err != nil {
			return nil, errors.Wrap(err, "Bridge", "New", "load NATS TLS config")
		}
		clientOpts = append(clientOpts, natsclient.WithTLSConfig(tlsCfg))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "create NATS client")
	}
	b.client = client
	b.closeBus = client.Close

	b.registry = subscription.NewRegistry(client, out,
		subscription.WithBufferSize(cfg.Subscriptions.BufferSize),
		subscription.WithResubscribe(cfg.Subscriptions.Resubscribe),
		subscription.WithLogger(b.logger),
		subscription.WithMetrics(b.metrics),
	)

	b.gateway = gateway.NewServer(
		gateway.Config{Port: cfg.HTTP.Port, MaxBodyBytes: cfg.HTTP.MaxBodyBytes},
		b.registry, client,
		gateway.WithLogger(b.logger),
		gateway.WithMetrics(b.metrics),
	)

	b.logger = b.logger.With("component", "bridge")
	return b, nil
}

// Client returns the bridge's NATS client
func (b *Bridge) Client() *natsclient.Client { return b.client }

// Registry returns the bridge's subscription registry
func (b *Bridge) Registry() *subscription.Registry { return b.registry }

// Addr returns the gateway address; it is the bound address once Ready is closed
func (b *Bridge) Addr() string {
	if addr, ok := b.addr.Load().(string); ok {
		return addr
	}
	return b.gateway.Addr()
}

// Ready is closed once the gateway is accepting connections
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Done is closed once shutdown has completed
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Status returns the lifecycle state
func (b *Bridge) Status() Status {
	if status, ok := b.status.Load().(Status); ok {
		return status
	}
	return StatusStopped
}

// Run attempts an initial connection, serves the gateway and blocks until
// ctx is cancelled, the gateway fails or Shutdown is called. Shutdown has
// completed when Run returns. A failed initial connection is logged only;
// the next request connects lazily.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Run", "start bridge")
	}
	select {
	case <-b.done:
		return nil
	default:
	}
	b.status.CompareAndSwap(StatusStopped, StatusStarting)

	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.NATS.ConnectTimeout.Std())
	if err := b.client.EnsureConnected(connectCtx); err != nil {
		b.logger.Warn("initial NATS connection failed, will retry on demand",
			"url", redactURL(b.client.URL()), "error", err)
	}
	cancel()

	ln, err := net.Listen("tcp", b.gateway.Addr())
	if err != nil {
		listenErr := errors.WrapFatal(err, "Bridge", "Run", fmt.Sprintf("listen on %s", b.gateway.Addr()))
		b.shutdownAfterRun()
		return listenErr
	}

	b.addr.Store(ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- b.gateway.Serve(ln)
	}()

	b.status.CompareAndSwap(StatusStarting, StatusRunning)
	close(b.ready)
	b.logger.Info("bridge running", "gateway", ln.Addr().String(), "nats_url", redactURL(b.client.URL()))

	var runErr error
	select {
	case <-ctx.Done():
		b.logger.Info("bridge context done, shutting down")
	case <-b.done:
	case err := <-serveErr:
		runErr = err
		serveErr = nil
	}

	b.shutdownAfterRun()
	if serveErr != nil {
		if err := <-serveErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (b *Bridge) shutdownAfterRun() {
	ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
	defer cancel()
	_ = b.Shutdown(ctx)
}

// Shutdown stops the bridge in a fixed order: the gateway stops accepting
// and waits for in-flight requests, the registry stops taking
// subscriptions, the NATS connection is drained and closed, consumer loops and the dispatcher stop, and finally the sink is
// closed. Every step runs even when an earlier one fails; failures are
// logged and returned joined. Shutdown is idempotent.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.shutdownErr = b.shutdown(ctx)
	})
	return b.shutdownErr
}

func (b *Bridge) shutdown(ctx context.Context) error {
	b.status.Store(StatusStopping)
	b.logger.Info("shutting down bridge")

	var errs []error
	step := func(name string, fn func() error) {
		start := time.Now()
		if err := fn(); err != nil {
			b.logger.Error("shutdown step failed", "step", name, "error", err)
			errs = append(errs, errors.Wrap(err, "Bridge", "Shutdown", name))
			return
		}
		b.logger.Debug("shutdown step complete", "step", name, "duration", time.Since(start))
	}

	step("stop gateway", func() error { return b.gateway.Shutdown(ctx) })
	b.registry.Stop()
	step("close NATS connection", func() error { return b.closeBus(ctx) })
	step("stop subscriptions", func() error { return b.registry.Close(ctx) })
	step("close sink", b.out.Close)

	b.status.Store(StatusStopped)
	close(b.done)
	b.logger.Info("bridge shutdown complete")

	return stderrors.Join(errs...)
}

// Health reports the connection, gateway and subscription state
func (b *Bridge) Health() health.Status {
	monitor := health.NewMonitor()
	monitor.Update("nats", b.natsHealth())
	monitor.Update("gateway", b.gatewayHealth())
	monitor.Update("subscriptions", b.subscriptionHealth())
	return monitor.Aggregate("natsbridge")
}

func (b *Bridge) natsHealth() health.Status {
	status := b.client.Status()
	var s health.Status
	switch status {
	case natsclient.StatusConnected:
		s = health.NewHealthy("nats", "connected")
		if rtt, err := b.client.RTT(); err == nil {
			s = s.WithDetail("rtt", rtt.String())
		}
	case natsclient.StatusConnecting, natsclient.StatusReconnecting:
		s = health.NewDegraded("nats", status.String())
	case natsclient.StatusDisconnected:
		// lazily connected on the next request
		s = health.NewDegraded("nats", "disconnected")
	default:
		s = health.NewUnhealthy("nats", status.String())
	}
	return s.WithDetail("url", redactURL(b.client.URL()))
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid]"
	}
	return u.Redacted()
}

func (b *Bridge) gatewayHealth() health.Status {
	switch status := b.Status(); status {
	case StatusRunning:
		return health.NewHealthy("gateway", "serving").WithDetail("addr", b.Addr())
	case StatusStarting, StatusStopping:
		return health.NewDegraded("gateway", status.String())
	default:
		return health.NewUnhealthy("gateway", status.String())
	}
}

func (b *Bridge) subscriptionHealth() health.Status {
	active := b.registry.Len()
	stale := b.registry.Stale()

	s := health.NewHealthy("subscriptions", fmt.Sprintf("%d active", active))
	if len(stale) > 0 {
		s = health.NewDegraded("subscriptions", fmt.Sprintf("%d active, %d awaiting resubscribe", active, len(stale)))
	}
	return s.WithDetail("active", active).WithDetail("stale", stale)
}
