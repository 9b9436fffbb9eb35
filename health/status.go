// Package health describes the health of the bridge and its parts as JSON
// serializable status records.
package health

import (
	"regexp"
	"time"
)

// State values carried in Status.Status
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlPattern        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|seed|secret|jwt)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or of the whole bridge
type Status struct {
	Component   string         `json:"component"`
	Healthy     bool           `json:"healthy"`
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithDetail returns a copy of the status with key set in Details
func (s Status) WithDetail(key string, value any) Status {
	details := make(map[string]any, len(s.Details)+1)
	for k, v := range s.Details {
		details[k] = v
	}
	details[key] = value
	s.Details = details
	return s
}

// FromError builds an unhealthy status whose message is err with server
// URLs and credentials redacted.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, sanitize(err.Error()))
}

func sanitize(msg string) string {
	msg = urlPattern.ReplaceAllString(msg, "[URL]")
	return credentialPattern.ReplaceAllString(msg, "[REDACTED]")
}
