package bufferpool

import (
	"fmt"
	"sync"

	"github.com/c360/orchid/errors"
)

// signal is a generation-counted condition shared by the pools feeding one
// MultiQueue. A consumer samples gen before scanning and sleeps only while
// it is unchanged, so a publish racing with the scan is never lost.
type signal struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
}

func newSignal() *signal {
	s := &signal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *signal) notify() {
	s.mu.Lock()
	s.gen++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// MultiQueue lets one consumer take from the ready lists of several pools
// as if they were one queue. Each call starts scanning one class past the
// class served last, so with K classes publishing continuously every class
// is served within any K consecutive takes.
type MultiQueue[I any] struct {
	pools []*Pool[I]
	sig   *signal

	// guarded by sig.mu
	next       int
	interrupts int
	closed     bool
}

// NewMultiQueue builds a fan-in view over pools. The order of pools is the
// class order used for round-robin.
func NewMultiQueue[I any](pools ...*Pool[I]) (*MultiQueue[I], error) {
	if len(pools) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no producer pools", errors.ErrInvalidConfig),
			"MultiQueue", "NewMultiQueue", "create fan-in")
	}
	for i, p := range pools {
		if p == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: pool %d is nil", errors.ErrInvalidConfig, i),
				"MultiQueue", "NewMultiQueue", "create fan-in")
		}
	}

	q := &MultiQueue[I]{
		pools: append([]*Pool[I](nil), pools...),
		sig:   newSignal(),
	}
	for _, p := range q.pools {
		p.attach(q.sig)
	}
	return q, nil
}

// Classes returns the number of producer classes.
func (q *MultiQueue[I]) Classes() int {
	return len(q.pools)
}

// Pool returns the pool of class i.
func (q *MultiQueue[I]) Pool(i int) *Pool[I] {
	return q.pools[i]
}

// Take returns the next ready buffer from any class, blocking while none is
// ready. It returns ErrInterrupted once per Interrupt call and ErrClosed
// after Close or when every pool is closed and drained.
func (q *MultiQueue[I]) Take() (*Buffer[I], error) {
	for {
		q.sig.mu.Lock()
		if q.closed {
			q.sig.mu.Unlock()
			return nil, errors.ErrClosed
		}
		if q.interrupts > 0 {
			q.interrupts--
			q.sig.mu.Unlock()
			return nil, errors.ErrInterrupted
		}
		gen := q.sig.gen
		start := q.next
		q.sig.mu.Unlock()

		if b, ok := q.scan(start); ok {
			return b, nil
		}
		if q.drained() {
			return nil, errors.ErrClosed
		}

		q.sig.mu.Lock()
		for q.sig.gen == gen && !q.closed && q.interrupts == 0 {
			q.sig.cond.Wait()
		}
		q.sig.mu.Unlock()
	}
}

// TryTake scans every class once without blocking.
func (q *MultiQueue[I]) TryTake() (*Buffer[I], bool) {
	q.sig.mu.Lock()
	start := q.next
	q.sig.mu.Unlock()
	return q.scan(start)
}

func (q *MultiQueue[I]) scan(start int) (*Buffer[I], bool) {
	k := len(q.pools)
	for i := 0; i < k; i++ {
		idx := (start + i) % k
		if b, ok := q.pools[idx].TryTake(); ok {
			q.sig.mu.Lock()
			q.next = (idx + 1) % k
			q.sig.mu.Unlock()
			return b, true
		}
	}
	return nil, false
}

func (q *MultiQueue[I]) drained() bool {
	for _, p := range q.pools {
		if !p.drained() {
			return false
		}
	}
	return true
}

// Interrupt makes one Take return ErrInterrupted, waking it if blocked. The
// consumer uses it to re-check its controller state.
func (q *MultiQueue[I]) Interrupt() {
	q.sig.mu.Lock()
	q.interrupts++
	q.sig.cond.Broadcast()
	q.sig.mu.Unlock()
}

// Close makes every current and future Take return ErrClosed. The
// underlying pools are left open.
func (q *MultiQueue[I]) Close() {
	q.sig.mu.Lock()
	q.closed = true
	q.sig.cond.Broadcast()
	q.sig.mu.Unlock()
}

// Snapshots returns the slot distribution of every class.
func (q *MultiQueue[I]) Snapshots() []Snapshot {
	out := make([]Snapshot, len(q.pools))
	for i, p := range q.pools {
		out[i] = p.Snapshot()
	}
	return out
}
