package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "natsbridge"

// Metrics contains the bridge metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// NATS connection
	NATSConnected   prometheus.Gauge
	NATSConnects    prometheus.Counter
	NATSReconnects  prometheus.Counter
	NATSDisconnects prometheus.Counter
	NATSConnectFail prometheus.Counter

	// HTTP gateway
	HTTPRequests *prometheus.CounterVec

	// Messages
	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesDropped   *prometheus.CounterVec

	// Subscriptions and sink
	SubscriptionsActive prometheus.Gauge
	SubscriptionFaults  prometheus.Counter
	SinkErrors          prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all bridge metrics
func NewMetrics() *Metrics {
	return &Metrics{
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connects_total",
			Help:      "Total number of successful initial NATS connects",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections performed by the client library",
		}),
		NATSDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "disconnects_total",
			Help:      "Total number of NATS disconnect events",
		}),
		NATSConnectFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connect_failures_total",
			Help:      "Total number of failed initial NATS connects",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of gateway HTTP requests",
		}, []string{"method", "code"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "published_total",
			Help:      "Total number of messages published to NATS",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "delivered_total",
			Help:      "Total number of inbound messages forwarded to the output sink",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Total number of inbound messages dropped",
		}, []string{"reason"}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Number of active subject subscriptions",
		}),
		SubscriptionFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "faults_total",
			Help:      "Total number of subscriptions terminated by a fault",
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Total number of failed sink deliveries",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.NATSConnected,
		m.NATSConnects,
		m.NATSReconnects,
		m.NATSDisconnects,
		m.NATSConnectFail,
		m.HTTPRequests,
		m.MessagesPublished,
		m.MessagesDelivered,
		m.MessagesDropped,
		m.SubscriptionsActive,
		m.SubscriptionFaults,
		m.SinkErrors,
	}
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordConnect counts a successful initial connect
func (m *Metrics) RecordConnect() {
	if m != nil {
		m.NATSConnects.Inc()
	}
}

// RecordConnectFailure counts a failed initial connect
func (m *Metrics) RecordConnectFailure() {
	if m != nil {
		m.NATSConnectFail.Inc()
	}
}

// RecordReconnect increments reconnection counter
func (m *Metrics) RecordReconnect() {
	if m != nil {
		m.NATSReconnects.Inc()
	}
}

// RecordDisconnect increments disconnect counter
func (m *Metrics) RecordDisconnect() {
	if m != nil {
		m.NATSDisconnects.Inc()
	}
}

// RecordRequest counts a finished gateway request
func (m *Metrics) RecordRequest(method string, code int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, statusLabel(code)).Inc()
	}
}

// RecordPublished counts a message published to NATS
func (m *Metrics) RecordPublished() {
	if m != nil {
		m.MessagesPublished.Inc()
	}
}

// RecordDelivered counts a record handed to the sink
func (m *Metrics) RecordDelivered() {
	if m != nil {
		m.MessagesDelivered.Inc()
	}
}

// RecordDropped counts an inbound message dropped for reason
func (m *Metrics) RecordDropped(reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

// SetActiveSubscriptions updates the active subscription gauge
func (m *Metrics) SetActiveSubscriptions(n int) {
	if m != nil {
		m.SubscriptionsActive.Set(float64(n))
	}
}

// RecordSubscriptionFault counts a terminated subscription
func (m *Metrics) RecordSubscriptionFault() {
	if m != nil {
		m.SubscriptionFaults.Inc()
	}
}

// RecordSinkError counts a failed sink delivery
func (m *Metrics) RecordSinkError() {
	if m != nil {
		m.SinkErrors.Inc()
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
