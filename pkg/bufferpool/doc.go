// Package bufferpool moves fixed-size byte buffers between pipeline stages
// without per-event allocation.
//
// A Pool owns an arena of N slots allocated once. Each slot is held by
// exactly one of: the free list, a producer, the ready list, or a consumer.
// The pool tracks that owner per slot and panics with errors.ErrOwnership
// on a publish or release from the wrong owner, so a double release fails
// fast instead of corrupting the free list.
//
//	pool, _ := bufferpool.New[event.BufferInfo]("board0", 8, 64<<10)
//
//	// producer
//	b, err := pool.Acquire() // blocks while every slot is in use
//	if errors.IsClosed(err) {
//		return
//	}
//	n, _ := dev.Fill(b.Data())
//	b.SetLen(n)
//	pool.Publish(b)
//
//	// consumer
//	b, err := pool.Take()
//	process(b.Bytes())
//	b.Release()
//
// Acquire blocking on an empty free list is the acquisition backpressure:
// a slow consumer throttles the producer instead of growing memory. Waits
// are counted in Stats.
//
// MultiQueue fans several pools into one consumer with round-robin
// fairness and no busy polling.
package bufferpool
