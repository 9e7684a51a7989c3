// Package buffer provides the bounded FIFO primitive and the observability
// shared by every queue in the acquisition pipeline.
//
// # Ring
//
// Ring is a fixed-capacity FIFO with no internal locking. Owners such as
// bufferpool.Pool and file.Queue hold one mutex over several rings so that a
// single critical section can move an index from one ring to another. That
// keeps invariants spanning rings (free + ready + checked-out == N) exact at
// every instant rather than eventually consistent.
//
//	r := buffer.NewRing[int32](4)
//	r.Push(1)
//	v, ok := r.Pop()
//
// A Ring never allocates after construction, and FIFO order is preserved:
// items pushed in order a, b, c pop in order a, b, c.
//
// # Observability
//
// Statistics are always collected with atomics and can be read from any
// goroutine. Prometheus export is optional:
//
//	m, err := buffer.NewMetrics(registry, "digitizer_0")
//	m.RecordPush(depth, capacity) // safe on a nil *Metrics
package buffer
