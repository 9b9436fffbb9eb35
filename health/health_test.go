package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{"healthy", NewHealthy("nats", "connected"), true, false, false},
		{"degraded", NewDegraded("nats", "reconnecting"), false, true, false},
		{"unhealthy", NewUnhealthy("nats", "disconnected"), false, false, true},
		{"empty", Status{}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.healthy, tt.status.IsHealthy())
			assert.Equal(t, tt.degraded, tt.status.IsDegraded())
			assert.Equal(t, tt.unhealthy, tt.status.IsUnhealthy())
			assert.Equal(t, tt.healthy, tt.status.Healthy)
		})
	}
}

func TestWithDetail_DoesNotShareMap(t *testing.T) {
	base := NewHealthy("subscriptions", "ok").WithDetail("active", 1)
	derived := base.WithDetail("active", 2)

	assert.Equal(t, 1, base.Details["active"])
	assert.Equal(t, 2, derived.Details["active"])
}

func TestFromError(t *testing.T) {
	s := FromError("nats", nil)
	assert.True(t, s.IsHealthy())

	s = FromError("nats", errors.New("dial nats://user:pw@10.0.0.1:4222 failed, token=abc123"))
	require.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "nats://")
	assert.NotContains(t, s.Message, "abc123")
	assert.Contains(t, s.Message, "[URL]")
	assert.Contains(t, s.Message, "[REDACTED]")
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("natsbridge", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.Update("nats", NewDegraded("", "reconnecting"))
	m.Update("gateway", NewHealthy("", "serving"))

	s, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", s.Component)

	agg := m.Aggregate("natsbridge")
	assert.Equal(t, StateDegraded, agg.Status)
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "gateway", agg.SubStatuses[0].Component)

	m.Update("nats", NewHealthy("", "connected"))
	assert.True(t, m.Aggregate("natsbridge").IsHealthy())

	m.Remove("nats")
	_, ok = m.Get("nats")
	assert.False(t, ok)
}
