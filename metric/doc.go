// Package metric exposes ORCHID acquisition metrics to Prometheus.
//
// MetricsRegistry owns a private prometheus.Registry preloaded with the
// core acquisition metrics (thread role state, buffers published, events
// routed, bytes written, write failures, slow-controls polls) plus the Go
// runtime and process collectors. Components register their own collectors
// under a component name; a duplicate name is rejected with an invalid
// error rather than a panic.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordWrite(fileIndex, n, elapsed.Seconds())
//
// Server serves /metrics and a JSON /healthz document on one listener.
package metric
