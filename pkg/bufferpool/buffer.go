package bufferpool

// owner records which stage currently holds a slot.
type owner uint8

const (
	ownerFree owner = iota
	ownerProducer
	ownerReady
	ownerConsumer
)

func (o owner) String() string {
	switch o {
	case ownerFree:
		return "free"
	case ownerProducer:
		return "producer"
	case ownerReady:
		return "ready"
	case ownerConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Buffer is one slot of a Pool's arena plus its metadata. The byte slice is
// allocated once with the pool and reused for the lifetime of the process.
type Buffer[I any] struct {
	pool  *Pool[I]
	index int32
	data  []byte
	n     int

	// Info is stamped by the producer and read by the consumer.
	Info I
}

// Index returns the slot index inside the pool arena.
func (b *Buffer[I]) Index() int {
	return int(b.index)
}

// Data returns the whole slot for the producer to fill.
func (b *Buffer[I]) Data() []byte {
	return b.data
}

// Cap returns the slot size.
func (b *Buffer[I]) Cap() int {
	return len(b.data)
}

// SetLen records how many bytes of the slot are valid. n is clamped to the
// slot size.
func (b *Buffer[I]) SetLen(n int) {
	switch {
	case n < 0:
		n = 0
	case n > len(b.data):
		n = len(b.data)
	}
	b.n = n
}

// Len returns the number of valid bytes.
func (b *Buffer[I]) Len() int {
	return b.n
}

// Bytes returns the valid portion of the slot.
func (b *Buffer[I]) Bytes() []byte {
	return b.data[:b.n]
}

// Append copies p after the valid bytes and reports whether it fit.
func (b *Buffer[I]) Append(p []byte) bool {
	if len(p) > len(b.data)-b.n {
		return false
	}
	b.n += copy(b.data[b.n:], p)
	return true
}

// Remaining returns the free space after the valid bytes.
func (b *Buffer[I]) Remaining() int {
	return len(b.data) - b.n
}

// Pool returns the pool the buffer belongs to.
func (b *Buffer[I]) Pool() *Pool[I] {
	return b.pool
}

// Release returns the buffer to its pool's free list.
func (b *Buffer[I]) Release() {
	b.pool.Release(b)
}
