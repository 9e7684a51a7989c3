// Package file is the asynchronous multi-file writer.
//
// The pieces, leaf to root:
//
//   - Wrapper: one output file behind an exclusive lock, with write and
//     size counters readable without the lock and optional size rollover.
//   - Collection: the indexed set of Wrappers for a run.
//   - Queue: bounded pending jobs per file. A file is handed to at most one
//     writer at a time, so per-file order survives several writers while
//     distinct files are written concurrently.
//   - WriterPool: N writer goroutines under a threadstate.Machine.
//
// A Job carries a Release func for the output buffer it points into. The
// writer pool calls it exactly once whether the write succeeded, failed
// after retries, was skipped because the file is errored, or was abandoned
// at shutdown, and counts each outcome.
//
// Capacity is checked at construction: numFiles < numBuffers <
// MaximumWriteQueueSize. With fewer buffers than files a processing stage
// holding one partially filled buffer per file could exhaust the pool
// while the queue waits for a buffer that never comes back.
//
// Basic wiring:
//
//	files, _ := file.NewCollection(2, fileStatus, logger)
//	queue, _ := file.NewQueue(2, 4)
//	writers, _ := file.NewWriterPool(queue, files, machine, 2)
//	_, _ = files.OpenRun(dir, "calibration", 7)
//	_ = writers.Start(ctx)
//	_ = machine.RequestRun()
//
//	_ = queue.Enqueue(file.Job{File: 1, Data: buf.Bytes(), Release: buf.Release})
package file
