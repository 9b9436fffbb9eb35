// Package metric provides the Prometheus metrics of the bridge.
//
// NewMetricsRegistry creates a private prometheus.Registry with the bridge
// metrics (namespace "natsbridge") and the Go runtime collectors. Every
// Record method on *Metrics is safe on a nil receiver, so components can be
// built without metrics in tests.
//
//	registry := metric.NewMetricsRegistry()
//	m := registry.CoreMetrics()
//	m.RecordPublished()
//
// Server exposes the registry on /metrics and a JSON health report on
// /health, listening on loopback only.
package metric
