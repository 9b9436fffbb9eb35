// Package natsbridge exposes a NATS server to co-located processes over a
// loopback-only HTTP interface.
//
// Local programs that cannot speak the NATS protocol talk plain HTTP to
// 127.0.0.1 instead:
//
//	GET  /orders                      subscribe to subject "orders"
//	POST /  (header topic: alerts)    publish the JSON body to "alerts"
//
// Messages arriving on subscribed subjects are delivered as
// {"topic": ..., "payload": ...} records to the configured sinks (stdout,
// file, webhook, websocket).
//
// # Layout
//
//   - natsclient: connection supervisor with reconnect and drain handling
//   - subscription: idempotent subject registry and resubscribe on reconnect
//   - gateway: the loopback HTTP server and request translation
//   - sink: record outputs and fan-out
//   - bridge: wiring, lifecycle and aggregated health
//   - config: layered JSON/YAML configuration with environment overrides
//   - errors, metric, health, pkg/retry, pkg/tlsutil: shared infrastructure
//
// # Running
//
//	natsbridge -config bridge.yaml
//
// Logs are written to stderr so that the stdout sink owns stdout.
// Optional Prometheus metrics and health endpoints are served on
// metrics.port.
//
// # Testing
//
// Unit tests run against an in-process fake connection. Integration tests
// start a NATS container through testcontainers-go and are skipped with
// -short:
//
//	go test -short ./...
//	go test ./...
package natsbridge
