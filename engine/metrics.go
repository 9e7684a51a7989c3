package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/orchid/metric"
)

// engineMetrics holds run lifecycle metrics.
type engineMetrics struct {
	runsStarted prometheus.Counter
	runsStopped prometheus.Counter
	runDuration prometheus.Histogram
	failures    *prometheus.CounterVec // by role
	running     prometheus.Gauge
}

func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "run",
			Name:      "started_total",
			Help:      "Total number of runs started",
		}),
		runsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "run",
			Name:      "stopped_total",
			Help:      "Total number of runs stopped",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Run duration in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "role_failures_total",
			Help:      "Workers that exited with an error, by role",
		}, []string{"role"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "run",
			Name:      "active",
			Help:      "1 while a run is taking data",
		}),
	}

	if err := registry.RegisterCounter("engine", "runs_started", m.runsStarted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("engine", "runs_stopped", m.runsStopped); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "run_duration", m.runDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "role_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "run_active", m.running); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) recordStart() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.running.Set(1)
}

func (m *engineMetrics) recordStop(seconds float64) {
	if m == nil {
		return
	}
	m.runsStopped.Inc()
	m.runDuration.Observe(seconds)
	m.running.Set(0)
}

func (m *engineMetrics) recordFailure(role string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(role).Inc()
}
