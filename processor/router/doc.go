// Package router is the processing role: it drains every digitizer pool
// through one fan-in queue, validates the event records in each buffer and
// packs them into output buffers, one open buffer per output file. Full
// buffers become write jobs on the file output queue.
//
// On stop the router drains what the boards already published, flushes the
// partially filled output buffers and then acknowledges the stop, so a
// paused run has all its events queued for writing. Terminate does the same
// before the goroutine exits.
//
// Records whose board id does not match the board that produced the buffer
// are counted as invalid and dropped. A truncated or malformed record ends
// the scan of that buffer.
package router
