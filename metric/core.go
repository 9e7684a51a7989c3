package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the acquisition-wide metrics every component may record.
// Component-specific metrics (queue depth, per-pool waits) are registered by
// the component itself through MetricsRegistry.
type Metrics struct {
	RoleState       *prometheus.GaugeVec
	BuffersAcquired *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	InvalidEvents   *prometheus.CounterVec
	BytesWritten    *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
	WriteDuration   prometheus.Histogram
	SlowControlPoll *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RoleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "thread",
				Name:      "state",
				Help:      "Thread role state (0=stopped, 1=running, 2=terminate)",
			},
			[]string{"role"},
		),
		BuffersAcquired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "acquisition",
				Name:      "buffers_total",
				Help:      "Total number of digitizer buffers published",
			},
			[]string{"board"},
		),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "processing",
				Name:      "events_total",
				Help:      "Total number of events routed to output",
			},
			[]string{"board"},
		),
		InvalidEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "processing",
				Name:      "invalid_events_total",
				Help:      "Total number of records rejected by validation",
			},
			[]string{"board"},
		),
		BytesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "output",
				Name:      "bytes_written_total",
				Help:      "Total number of bytes committed to output files",
			},
			[]string{"file"},
		),
		WriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "output",
				Name:      "write_errors_total",
				Help:      "Total number of write jobs that failed after retries",
			},
			[]string{"file"},
		),
		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "output",
				Name:      "write_duration_seconds",
				Help:      "Time spent committing one write job",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		SlowControlPoll: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "slow_controls",
				Name:      "polls_total",
				Help:      "Total number of slow-controls polls by outcome",
			},
			[]string{"status"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RoleState,
		c.BuffersAcquired,
		c.EventsProcessed,
		c.InvalidEvents,
		c.BytesWritten,
		c.WriteErrors,
		c.WriteDuration,
		c.SlowControlPoll,
	}
}

// RecordRoleState updates the state gauge of a thread role
func (c *Metrics) RecordRoleState(role string, state int) {
	if c == nil {
		return
	}
	c.RoleState.WithLabelValues(role).Set(float64(state))
}

// RecordBufferAcquired counts a published digitizer buffer
func (c *Metrics) RecordBufferAcquired(board int) {
	if c == nil {
		return
	}
	c.BuffersAcquired.WithLabelValues(strconv.Itoa(board)).Inc()
}

// RecordEvents counts routed and rejected records of one board
func (c *Metrics) RecordEvents(board int, valid, invalid int) {
	if c == nil {
		return
	}
	label := strconv.Itoa(board)
	if valid > 0 {
		c.EventsProcessed.WithLabelValues(label).Add(float64(valid))
	}
	if invalid > 0 {
		c.InvalidEvents.WithLabelValues(label).Add(float64(invalid))
	}
}

// RecordWrite records one committed write job
func (c *Metrics) RecordWrite(file int, bytes int, seconds float64) {
	if c == nil {
		return
	}
	c.BytesWritten.WithLabelValues(strconv.Itoa(file)).Add(float64(bytes))
	c.WriteDuration.Observe(seconds)
}

// RecordWriteError counts a write job that could not be committed
func (c *Metrics) RecordWriteError(file int) {
	if c == nil {
		return
	}
	c.WriteErrors.WithLabelValues(strconv.Itoa(file)).Inc()
}

// RecordPoll counts a slow-controls poll
func (c *Metrics) RecordPoll(ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.SlowControlPoll.WithLabelValues(status).Inc()
}
