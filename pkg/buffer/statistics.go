package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. Counters are atomics so they can be read
// by the status reporter while producers and consumers run.
type Statistics struct {
	pushes  atomic.Int64
	pops    atomic.Int64
	waits   atomic.Int64
	rejects atomic.Int64

	depth    atomic.Int64
	maxDepth atomic.Int64

	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Push records an item entering the queue.
func (s *Statistics) Push() { s.pushes.Add(1) }

// Pop records an item leaving the queue.
func (s *Statistics) Pop() { s.pops.Add(1) }

// Wait records a caller that had to block (backpressure).
func (s *Statistics) Wait() { s.waits.Add(1) }

// Reject records an item refused because the queue was full.
func (s *Statistics) Reject() { s.rejects.Add(1) }

// UpdateDepth records the current queue depth and tracks the high-water mark.
func (s *Statistics) UpdateDepth(depth int64) {
	s.depth.Store(depth)
	for {
		high := s.maxDepth.Load()
		if depth <= high || s.maxDepth.CompareAndSwap(high, depth) {
			return
		}
	}
}

// Pushes returns the total number of items pushed.
func (s *Statistics) Pushes() int64 { return s.pushes.Load() }

// Pops returns the total number of items popped.
func (s *Statistics) Pops() int64 { return s.pops.Load() }

// Waits returns how many times a caller blocked.
func (s *Statistics) Waits() int64 { return s.waits.Load() }

// Rejects returns how many items were refused.
func (s *Statistics) Rejects() int64 { return s.rejects.Load() }

// Depth returns the last recorded depth.
func (s *Statistics) Depth() int64 { return s.depth.Load() }

// MaxDepth returns the highest recorded depth.
func (s *Statistics) MaxDepth() int64 { return s.maxDepth.Load() }

// Throughput returns the average number of pushes per second.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.startTime)
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Pushes()) / elapsed.Seconds()
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Pushes     int64         `json:"pushes"`
	Pops       int64         `json:"pops"`
	Waits      int64         `json:"waits"`
	Rejects    int64         `json:"rejects"`
	Depth      int64         `json:"depth"`
	MaxDepth   int64         `json:"max_depth"`
	Throughput float64       `json:"throughput"`
	Uptime     time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Pushes:     s.Pushes(),
		Pops:       s.Pops(),
		Waits:      s.Waits(),
		Rejects:    s.Rejects(),
		Depth:      s.Depth(),
		MaxDepth:   s.MaxDepth(),
		Throughput: s.Throughput(),
		Uptime:     time.Since(s.startTime),
	}
}
