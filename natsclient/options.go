package natsclient

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/c360/natsbridge/metric"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the client-to-server ping interval
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("ping interval must be positive, got %v", d)
		}
		c.pingInterval = d
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets the upper bound for draining on Close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithName sets the client name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTLSConfig connects over TLS with cfg; nil keeps the URL scheme's default
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithLogger sets the logger; nil keeps slog.Default()
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection and publish metrics
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = metrics
		return nil
	}
}

// WithCredsFile authenticates with the credentials in path. The file is
// read on every connect attempt, so rotated credentials are picked up and a
// missing file is a failed connect rather than a construction error.
// A decorated .creds file (user JWT plus seed) is passed to
// nats.UserCredentials; a file holding only an nkey seed is signed with
// nkeys. An empty path is a no-op.
func WithCredsFile(path string) ClientOption {
	return func(c *Client) error {
		c.credsFile = path
		return nil
	}
}

var jwtHeader = []byte("-----BEGIN NATS USER JWT-----")

func credentialsOption(path string) (nats.Option, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	if bytes.Contains(contents, jwtHeader) {
		return nats.UserCredentials(path), nil
	}

	seed := bytes.TrimSpace(contents)
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("parse nkey seed in %s: %w", path, err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive nkey public key: %w", err)
	}
	if !nkeys.IsValidPublicUserKey(pub) {
		return nil, fmt.Errorf("nkey in %s is not a user key", path)
	}

	return nats.Nkey(pub, kp.Sign), nil
}
