package health

import (
	"sort"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StatusHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// Aggregate folds subStatuses into one status for component. Sub-statuses
// are kept sorted by component name.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "nothing to report")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var s Status
	switch {
	case unhealthy > 0:
		s = NewUnhealthy(component, "one or more parts are unhealthy")
	case degraded > 0:
		s = NewDegraded(component, "one or more parts are degraded")
	default:
		s = NewHealthy(component, "all parts healthy")
	}

	s.SubStatuses = make([]Status, len(subStatuses))
	copy(s.SubStatuses, subStatuses)
	sort.Slice(s.SubStatuses, func(i, j int) bool {
		return s.SubStatuses[i].Component < s.SubStatuses[j].Component
	})
	return s
}
