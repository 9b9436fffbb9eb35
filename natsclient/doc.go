// Package natsclient supervises the single NATS connection shared by every
// part of the bridge.
//
// The connection is opened lazily. EnsureConnected returns immediately when a
// live connection exists and otherwise dials the configured server; callers
// that arrive while a dial is in flight wait for that same attempt instead of
// opening a second connection. A failed dial leaves the client Disconnected
// and returns an error matching errors.ErrBusUnavailable, so the next caller
// simply tries again. There is no background retry loop.
//
// # Connection Lifecycle
//
//	Disconnected → Connecting → Connected ⇄ Reconnecting
//	      ↑______________|           |
//	                                 └→ Disconnected (server gone for good)
//	any state → Closed (Close)
//
// Once connected, reconnection belongs to nats.go (infinite attempts, one
// second apart by default). While it is retrying the status is Reconnecting
// and EnsureConnected fails fast with ErrReconnecting. Close drains the
// connection, bounded by the drain timeout and the caller's context, and is
// terminal.
//
// # Observers
//
// OnConnect callbacks run after every fresh connection made by
// EnsureConnected, and OnClosed callbacks run when a connection closes. The
// subscription registry uses the pair to resubscribe subjects lost with a
// closed connection.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithCredsFile("/etc/natsbridge/bridge.creds"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	if err := client.EnsureConnected(ctx); err != nil {
//	    return err // 503 at the gateway
//	}
//	err = client.Publish(ctx, "sensors.temp", []byte(`{"c":21}`))
//
// # Credentials
//
// WithCredsFile accepts either a decorated .creds file (user JWT and seed),
// handed to nats.UserCredentials, or a file containing a bare user nkey seed,
// which is signed with github.com/nats-io/nkeys.
//
// # Testing
//
// NewTestServer starts a NATS server with testcontainers-go and skips the
// test under -short or when no container runtime is available.
package natsclient
