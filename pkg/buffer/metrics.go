package buffer

import (
	"github.com/c360/orchid/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports queue activity to Prometheus. A nil *Metrics is valid and
// records nothing, so owners can call it unconditionally.
type Metrics struct {
	pushes  prometheus.Counter
	pops    prometheus.Counter
	waits   prometheus.Counter
	rejects prometheus.Counter

	depth       prometheus.Gauge
	utilization prometheus.Gauge
}

// NewMetrics creates and registers queue metrics labelled with component.
func NewMetrics(registry *metric.MetricsRegistry, component string) (*Metrics, error) {
	if registry == nil || component == "" {
		return nil, nil
	}

	labels := prometheus.Labels{"component": component}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "queue",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		pushes:      counter("pushes_total", "Total number of items pushed"),
		pops:        counter("pops_total", "Total number of items popped"),
		waits:       counter("waits_total", "Total number of blocking waits (backpressure)"),
		rejects:     counter("rejects_total", "Total number of items rejected on a full queue"),
		depth:       gauge("depth", "Current number of queued items"),
		utilization: gauge("utilization", "Queue utilization (0.0 to 1.0)"),
	}

	for name, c := range map[string]prometheus.Counter{
		"queue_pushes":  m.pushes,
		"queue_pops":    m.pops,
		"queue_waits":   m.waits,
		"queue_rejects": m.rejects,
	} {
		if err := registry.RegisterCounter(component, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(component, "queue_depth", m.depth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPush counts a push and updates depth.
func (m *Metrics) RecordPush(depth, capacity int) {
	if m == nil {
		return
	}
	m.pushes.Inc()
	m.UpdateDepth(depth, capacity)
}

// RecordPop counts a pop and updates depth.
func (m *Metrics) RecordPop(depth, capacity int) {
	if m == nil {
		return
	}
	m.pops.Inc()
	m.UpdateDepth(depth, capacity)
}

// RecordWait counts a blocking wait.
func (m *Metrics) RecordWait() {
	if m == nil {
		return
	}
	m.waits.Inc()
}

// RecordReject counts a rejected push.
func (m *Metrics) RecordReject() {
	if m == nil {
		return
	}
	m.rejects.Inc()
}

// UpdateDepth sets depth and utilization.
func (m *Metrics) UpdateDepth(depth, capacity int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
	if capacity > 0 {
		m.utilization.Set(float64(depth) / float64(capacity))
	}
}
