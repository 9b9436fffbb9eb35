package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/singleflight"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error values returned by the client. All of them match
// errors.ErrBusUnavailable or errors.ErrConnectionClose with errors.Is.
var (
	ErrNotConnected = fmt.Errorf("%w: not connected", errors.ErrBusUnavailable)
	ErrReconnecting = fmt.Errorf("%w: reconnect in progress", errors.ErrBusUnavailable)
	ErrClosed       = fmt.Errorf("%w: client closed", errors.ErrConnectionClose)
)

// Subscription is the synchronous subscription handle returned by
// SubscribeSync. *nats.Subscription implements it.
type Subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// Client supervises the single NATS connection of the bridge.
//
// The connection is opened lazily by EnsureConnected. Concurrent callers
// share one attempt, and once connected the nats.go library owns
// reconnection. A client that has been closed stays closed.
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	conn       *nats.Conn
	connClosed chan struct{}
	connects   singleflight.Group

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	credsFile     string
	tlsConfig     *tls.Config

	metrics *metric.Metrics

	// Observers
	onConnect []func()
	onClosed  []func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration.
// No connection is made until EnsureConnected is called.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: time.Second,
		pingInterval:  2 * time.Minute,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy returns true if the connection is live
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Conn returns the current NATS connection, or nil when there is none
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// OnConnect registers fn to be called, in its own goroutine, after every
// fresh connection established by EnsureConnected. Reconnections handled
// inside nats.go do not trigger it.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnClosed registers fn to be called, in its own goroutine, when a
// connection is closed for good.
func (c *Client) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

// EnsureConnected returns nil when a live connection exists, opening one if
// needed. It fails with ErrReconnecting while nats.go is retrying a dropped
// connection and with ErrClosed after Close.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.live() {
		return nil
	}
	if c.Status() == StatusReconnecting {
		return errors.WrapTransient(ErrReconnecting, "Client", "EnsureConnected", "wait for reconnect")
	}

	result := c.connects.DoChan("connect", func() (any, error) {
		return nil, c.connect()
	})

	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrBusUnavailable, ctx.Err()),
			"Client", "EnsureConnected", "wait for connection")
	}
}

func (c *Client) live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// connect runs inside the single-flight group, so at most one dial is in
// progress at a time.
func (c *Client) connect() error {
	if c.live() {
		return nil
	}

	c.setStatus(StatusConnecting)
	c.logger.Debug("connecting to NATS", "url", c.url)

	connClosed := make(chan struct{})
	opts, err := c.buildConnectionOptions(connClosed)
	var conn *nats.Conn
	if err == nil {
		conn, err = nats.Connect(c.url, opts...)
	}
	if err != nil {
		if !c.closed.Load() {
			c.setStatus(StatusDisconnected)
		}
		c.metrics.RecordConnectFailure()
		c.logger.Warn("NATS connect failed", "url", c.url, "error", err)
		if stderrors.Is(err, nats.ErrTimeout) {
			err = fmt.Errorf("%w: %w", errors.ErrConnectTimeout, err)
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrBusUnavailable, err),
			"Client", "EnsureConnected", "connect")
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.connClosed = connClosed
	observers := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.metrics.RecordConnect()
	c.metrics.RecordNATSStatus(true)
	c.logger.Info("connected to NATS", "url", conn.ConnectedUrlRedacted(), "server_id", conn.ConnectedServerId())

	for _, fn := range observers {
		go fn()
	}
	return nil
}

// ConnectionOptions returns the nats.go options used for new connections.
// It fails when the credentials file cannot be loaded.
func (c *Client) ConnectionOptions() ([]nats.Option, error) {
	return c.buildConnectionOptions(make(chan struct{}))
}

func (c *Client) buildConnectionOptions(connClosed chan struct{}) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(func(nc *nats.Conn) {
			close(connClosed)
			c.handleClosed(nc)
		}),
		nats.ErrorHandler(c.handleError),
	}

	if c.credsFile != "" {
		auth, err := credentialsOption(c.credsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, auth)
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts, nil
}

// Publish publishes data on subject over the live connection
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Client", "Publish", "publish")
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "publish")
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}

	c.metrics.RecordPublished()
	return nil
}

// SubscribeSync opens a synchronous subscription on subject
func (c *Client) SubscribeSync(subject string) (Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "SubscribeSync", "subscribe")
	}

	sub, err := conn.SubscribeSync(subject)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"Client", "SubscribeSync", fmt.Sprintf("subscribe to %s", subject))
	}
	return sub, nil
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}

	return conn.RTT()
}

// Close drains and closes the connection. The drain is bounded by the
// drain timeout and by ctx; on expiry the connection is closed anyway.
// Close is idempotent and the client cannot be reconnected afterwards.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)
	c.setStatus(StatusClosed)

	c.mu.Lock()
	conn := c.conn
	connClosed := c.connClosed
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	var drainErr error
	if err := conn.Drain(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
	} else {
		timer := time.NewTimer(c.drainTimeout)
		defer timer.Stop()

		select {
		case <-connClosed:
		case <-timer.C:
			drainErr = errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", c.drainTimeout),
				"Client", "Close", "drain connection")
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
		}
	}

	conn.Close()
	c.metrics.RecordNATSStatus(false)

	if drainErr != nil {
		c.logger.Warn("NATS drain incomplete, connection force closed", "error", drainErr)
	}
	return drainErr
}

// Event handlers for NATS connection
func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.metrics.RecordDisconnect()
	c.metrics.RecordNATSStatus(false)
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) handleReconnect(nc *nats.Conn) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusConnected)
	c.metrics.RecordReconnect()
	c.metrics.RecordNATSStatus(true)
	c.logger.Info("NATS reconnected", "url", nc.ConnectedUrlRedacted())
}

func (c *Client) handleClosed(nc *nats.Conn) {
	c.mu.Lock()
	if c.conn == nc {
		c.conn = nil
	}
	observers := append([]func(){}, c.onClosed...)
	c.mu.Unlock()

	if !c.closed.Load() {
		c.setStatus(StatusDisconnected)
	}
	c.metrics.RecordNATSStatus(false)
	c.logger.Info("NATS connection closed", "error", nc.LastError())

	for _, fn := range observers {
		go fn()
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS async error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS async error", "error", err)
}
