package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/status"
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	urlRegex         = regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|community)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a role, file or the whole system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the counters behind a status.
type Metrics struct {
	Uptime       time.Duration `json:"uptime,omitempty"`
	ErrorCount   int           `json:"error_count"`
	Processed    int64         `json:"processed,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy with sub appended.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// sanitizeErrorMessage strips URLs, paths, addresses, ports and credentials.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	s := urlRegex.ReplaceAllString(err, "[URL]")
	s = unixPathRegex.ReplaceAllString(s, "[PATH]")
	s = windowsPathRegex.ReplaceAllString(s, "[PATH]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	s = portRegex.ReplaceAllString(s, "[PORT]")
	return credentialRegex.ReplaceAllString(s, "[REDACTED]")
}

// FromRole reports a role from its thread state. Terminate is only healthy
// once the system is shutting down.
func FromRole(role string, state threadstate.State, shuttingDown bool) Status {
	switch {
	case state == threadstate.Terminate && !shuttingDown:
		return NewUnhealthy(role, "role terminated unexpectedly")
	case state == threadstate.Running:
		return NewHealthy(role, "running")
	default:
		return NewHealthy(role, state.String())
	}
}

// FromError reports a role that failed with err.
func FromError(role string, err error) Status {
	return NewUnhealthy(role, sanitizeErrorMessage(err.Error()))
}

// FromFile reports one output file. An errored file is degraded; a file
// with failed or abandoned writes but still accepting data is healthy with
// the counts in its message.
func FromFile(f status.FileSnapshot) Status {
	name := fmt.Sprintf("file-%02d", f.Index)
	metrics := &Metrics{ErrorCount: int(f.Errors), Processed: int64(f.Writes)}

	if f.Errored {
		return NewDegraded(name, fmt.Sprintf("file errored after %d failed writes, %d jobs abandoned",
			f.Errors, f.Abandoned)).WithMetrics(metrics)
	}
	msg := "writing"
	if f.Name == "" {
		msg = "no file open"
	} else if f.Errors > 0 || f.Abandoned > 0 {
		msg = fmt.Sprintf("writing, %d failed writes, %d jobs abandoned", f.Errors, f.Abandoned)
	}
	return NewHealthy(name, strings.TrimSpace(msg)).WithMetrics(metrics)
}
