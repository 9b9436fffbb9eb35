package health

import (
	"sort"
	"time"
)

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls sub-statuses up into one status for component.
// Any unhealthy part makes the whole unhealthy; otherwise any degraded part
// makes it degraded. Sub-statuses are sorted by component name.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components registered")
	}

	var unhealthy, degraded bool
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy = true
		case sub.IsDegraded():
			degraded = true
		}
	}

	var status Status
	switch {
	case unhealthy:
		status = NewUnhealthy(component, "one or more components are unhealthy")
	case degraded:
		status = NewDegraded(component, "one or more components are degraded")
	default:
		status = NewHealthy(component, "all components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	sort.Slice(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Component < status.SubStatuses[j].Component
	})
	return status
}
