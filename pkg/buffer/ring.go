package buffer

// Ring is a fixed-capacity FIFO. It performs no locking and never grows:
// callers guard it with their own mutex, which lets one lock cover several
// rings (a pool's free and ready lists, a write queue's per-file lists).
type Ring[T any] struct {
	items []T
	head  int // next write position
	tail  int // next read position
	size  int
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends item. It returns false without modifying the ring when full.
func (r *Ring[T]) Push(item T) bool {
	if r.size == len(r.items) {
		return false
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	return true
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
	return item, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

// Each calls fn for every item from oldest to newest until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.items[(r.tail+i)%len(r.items)]) {
			return
		}
	}
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Full reports whether Push would fail.
func (r *Ring[T]) Full() bool { return r.size == len(r.items) }

// Empty reports whether Pop would fail.
func (r *Ring[T]) Empty() bool { return r.size == 0 }
