package status

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Cell is a reader/writer-locked value with change detection.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	clone   func(T) T
	version atomic.Uint64
	dirty   atomic.Bool
}

// NewCell creates a cell holding initial. The cell starts clean.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// NewSliceCell creates a cell whose slice is copied on every Set and read,
// so callers never share the backing array.
func NewSliceCell[E any](initial []E) *Cell[[]E] {
	return &Cell[[]E]{value: slices.Clone(initial), clone: func(s []E) []E { return slices.Clone(s) }}
}

// Set stores v and marks the cell dirty.
func (c *Cell[T]) Set(v T) {
	if c.clone != nil {
		v = c.clone(v)
	}
	c.mu.Lock()
	c.value = v
	c.version.Add(1)
	c.dirty.Store(true)
	c.mu.Unlock()
}

// Get returns the latest value and clears the dirty flag. Only the
// designated consumer should call Get.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.dirty.Store(false)
	return c.copyLocked()
}

// Peek returns the latest value without touching the dirty flag.
func (c *Cell[T]) Peek() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// Changed reports whether Set has been called since the last Get.
func (c *Cell[T]) Changed() bool {
	return c.dirty.Load()
}

// Version counts Set calls.
func (c *Cell[T]) Version() uint64 {
	return c.version.Load()
}

// GetIfNewer returns the value and its version when the version differs
// from seen. Each extra consumer keeps its own seen version.
func (c *Cell[T]) GetIfNewer(seen uint64) (T, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := c.version.Load()
	if v == seen {
		var zero T
		return zero, v, false
	}
	return c.copyLocked(), v, true
}

func (c *Cell[T]) copyLocked() T {
	if c.clone != nil {
		return c.clone(c.value)
	}
	return c.value
}
