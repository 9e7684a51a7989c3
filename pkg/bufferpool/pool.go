package bufferpool

import (
	"fmt"
	"sync"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/buffer"
)

// Snapshot is a consistent view of where a pool's slots are.
// Free + Ready + CheckedOut always equals Capacity.
type Snapshot struct {
	Name       string `json:"name"`
	Capacity   int    `json:"capacity"`
	Free       int    `json:"free"`
	Ready      int    `json:"ready"`
	CheckedOut int    `json:"checked_out"`
	Closed     bool   `json:"closed"`
}

// Pool is a fixed arena of N buffers cycling between a free list and a ready
// list. Producers Acquire from free and Publish to ready; consumers Take
// from ready and Release back to free.
type Pool[I any] struct {
	name     string
	slotSize int
	arena    []byte
	buffers  []Buffer[I]

	mu         sync.Mutex
	notFree    *sync.Cond
	notReady   *sync.Cond
	free       *buffer.Ring[int32]
	ready      *buffer.Ring[int32]
	owners     []owner
	checkedOut int
	closed     bool
	signals    []*signal

	stats   *buffer.Statistics
	metrics *buffer.Metrics
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	registry *metric.MetricsRegistry
}

// WithMetrics exports the pool's ready-list activity to Prometheus.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// New allocates a pool of capacity buffers of slotSize bytes each. Every
// buffer starts on the free list.
func New[I any](name string, capacity, slotSize int, opts ...Option) (*Pool[I], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: capacity %d", errors.ErrInvalidConfig, capacity),
			"Pool", "New", "create pool "+name)
	}
	if slotSize <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: slot size %d", errors.ErrInvalidConfig, slotSize),
			"Pool", "New", "create pool "+name)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[I]{
		name:     name,
		slotSize: slotSize,
		arena:    make([]byte, capacity*slotSize),
		buffers:  make([]Buffer[I], capacity),
		free:     buffer.NewRing[int32](capacity),
		ready:    buffer.NewRing[int32](capacity),
		owners:   make([]owner, capacity),
		stats:    buffer.NewStatistics(),
	}
	p.notFree = sync.NewCond(&p.mu)
	p.notReady = sync.NewCond(&p.mu)

	for i := range p.buffers {
		start := i * slotSize
		p.buffers[i] = Buffer[I]{
			pool:  p,
			index: int32(i),
			data:  p.arena[start : start+slotSize : start+slotSize],
		}
		p.free.Push(int32(i))
	}

	if o.registry != nil {
		m, err := buffer.NewMetrics(o.registry, "pool_"+name)
		if err != nil {
			return nil, errors.Wrap(err, "Pool", "New", "register metrics")
		}
		p.metrics = m
	}

	return p, nil
}

// Name returns the pool name.
func (p *Pool[I]) Name() string {
	return p.name
}

// Capacity returns N.
func (p *Pool[I]) Capacity() int {
	return len(p.buffers)
}

// SlotSize returns the size of each buffer in bytes.
func (p *Pool[I]) SlotSize() int {
	return p.slotSize
}

// Acquire removes a buffer from the free list, blocking while it is empty.
// It returns ErrClosed once the pool is closed.
func (p *Pool[I]) Acquire() (*Buffer[I], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	waited := false
	for p.free.Empty() && !p.closed {
		if !waited {
			waited = true
			p.stats.Wait()
			p.metrics.RecordWait()
		}
		p.notFree.Wait()
	}
	if p.closed {
		return nil, errors.ErrClosed
	}
	return p.checkoutLocked(p.free, ownerProducer), nil
}

// TryAcquire is Acquire without blocking. It reports false when no buffer
// is free or the pool is closed.
func (p *Pool[I]) TryAcquire() (*Buffer[I], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.free.Empty() {
		return nil, false
	}
	return p.checkoutLocked(p.free, ownerProducer), true
}

// Publish hands a filled buffer to the ready list. It never blocks: the
// ready list can hold every buffer in the pool. After Close the buffer goes
// back to the free list and ErrClosed is returned.
func (p *Pool[I]) Publish(b *Buffer[I]) error {
	signals, err := p.publish(b)
	for _, s := range signals {
		s.notify()
	}
	return err
}

func (p *Pool[I]) publish(b *Buffer[I]) ([]*signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.assertOwnerLocked(b, "publish", ownerProducer)
	p.checkedOut--

	if p.closed {
		p.owners[b.index] = ownerFree
		p.free.Push(b.index)
		p.notFree.Signal()
		return nil, errors.ErrClosed
	}

	p.owners[b.index] = ownerReady
	p.ready.Push(b.index)
	depth := p.ready.Len()
	p.stats.Push()
	p.stats.UpdateDepth(int64(depth))
	p.metrics.RecordPush(depth, len(p.buffers))
	p.notReady.Signal()
	return p.signals, nil
}

// Take removes the oldest published buffer, blocking while none is ready.
// Buffers published before Close are still handed out; ErrClosed is
// returned once the pool is closed and drained.
func (p *Pool[I]) Take() (*Buffer[I], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.ready.Empty() && !p.closed {
		p.notReady.Wait()
	}
	if p.ready.Empty() {
		return nil, errors.ErrClosed
	}
	return p.takeLocked(), nil
}

// TryTake is Take without blocking.
func (p *Pool[I]) TryTake() (*Buffer[I], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready.Empty() {
		return nil, false
	}
	return p.takeLocked(), true
}

func (p *Pool[I]) takeLocked() *Buffer[I] {
	b := p.checkoutLocked(p.ready, ownerConsumer)
	depth := p.ready.Len()
	p.stats.Pop()
	p.stats.UpdateDepth(int64(depth))
	p.metrics.RecordPop(depth, len(p.buffers))
	return b
}

// Release returns a buffer to the free list. It must be called exactly once
// per Acquire, either by the producer (abandoning the buffer) or by the
// consumer after Take. Releasing a buffer that is not checked out panics.
func (p *Pool[I]) Release(b *Buffer[I]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.assertOwnerLocked(b, "release", ownerProducer, ownerConsumer)
	b.n = 0
	p.owners[b.index] = ownerFree
	p.free.Push(b.index)
	p.checkedOut--
	p.notFree.Signal()
}

// Close wakes every blocked producer and consumer. Acquire fails from now
// on; Take drains what is already ready. Close is idempotent.
func (p *Pool[I]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.notFree.Broadcast()
	p.notReady.Broadcast()
	signals := p.signals
	p.mu.Unlock()

	for _, s := range signals {
		s.notify()
	}
}

// Closed reports whether Close has been called.
func (p *Pool[I]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// drained reports whether the pool is closed with nothing left to take.
func (p *Pool[I]) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed && p.ready.Empty()
}

// Snapshot returns the current slot distribution.
func (p *Pool[I]) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Name:       p.name,
		Capacity:   len(p.buffers),
		Free:       p.free.Len(),
		Ready:      p.ready.Len(),
		CheckedOut: p.checkedOut,
		Closed:     p.closed,
	}
}

// Stats returns the ready-list statistics. Waits counts Acquire calls that
// had to block on an empty free list.
func (p *Pool[I]) Stats() buffer.StatsSummary {
	return p.stats.Summary()
}

func (p *Pool[I]) attach(s *signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, s)
}

func (p *Pool[I]) checkoutLocked(from *buffer.Ring[int32], to owner) *Buffer[I] {
	idx, _ := from.Pop()
	p.owners[idx] = to
	p.checkedOut++
	return &p.buffers[idx]
}

// assertOwnerLocked panics when b is foreign to the pool or not held by
// one of the allowed owners. Callers unlock with defer.
func (p *Pool[I]) assertOwnerLocked(b *Buffer[I], op string, allowed ...owner) {
	if b == nil || b.pool != p {
		panic(fmt.Errorf("%w: %s of foreign buffer on pool %s", errors.ErrOwnership, op, p.name))
	}
	current := p.owners[b.index]
	for _, o := range allowed {
		if current == o {
			return
		}
	}
	panic(fmt.Errorf("%w: %s of buffer %d held by %s on pool %s",
		errors.ErrOwnership, op, b.index, current, p.name))
}
