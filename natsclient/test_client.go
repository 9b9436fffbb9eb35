package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a NATS server running in a testcontainers container
type TestServer struct {
	container testcontainers.Container
	URL       string
}

// testConfig holds configuration for the test server
type testConfig struct {
	natsVersion  string
	startTimeout time.Duration
}

// TestOption for configuring the test server
type TestOption func(*testConfig)

// WithNATSVersion specifies a specific NATS server image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithStartTimeout sets the container startup timeout
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// NewTestServer starts a NATS container for the duration of the test.
// The test is skipped under -short or when no container runtime is available.
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping NATS container test in short mode")
	}

	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("NATS container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	ts := &TestServer{
		container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}
	t.Cleanup(func() {
		_ = ts.Terminate()
	})
	return ts
}

// NewClient returns a Client for the test server that is closed on cleanup.
// It does not connect; call EnsureConnected.
func (ts *TestServer) NewClient(t testing.TB, opts ...ClientOption) *Client {
	t.Helper()

	opts = append([]ClientOption{WithTimeout(5 * time.Second), WithDrainTimeout(2 * time.Second)}, opts...)
	client, err := NewClient(ts.URL, opts...)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return client
}

// Stop stops the container without removing it, simulating a server outage
func (ts *TestServer) Stop(ctx context.Context) error {
	timeout := 5 * time.Second
	return ts.container.Stop(ctx, &timeout)
}

// Terminate removes the container (usually handled by t.Cleanup)
func (ts *TestServer) Terminate() error {
	if ts.container == nil {
		return nil
	}
	err := ts.container.Terminate(context.Background())
	ts.container = nil
	return err
}
