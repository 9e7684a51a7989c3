package file

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/retry"
	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/status"
)

// WriterPool runs a fixed set of writer goroutines that drain a Queue into
// a Collection. Writers pause between jobs while the machine is Stopped
// and exit on Terminate, after finishing the job they hold.
type WriterPool struct {
	queue   *Queue
	files   *Collection
	state   *threadstate.Machine
	workers int
	retry   errors.RetryConfig
	status  *status.FileData
	metrics *metric.Metrics
	logger  *slog.Logger

	lifecycleMu sync.Mutex
	started     bool
	wg          sync.WaitGroup
	drainOnce   sync.Once

	written   atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	abandoned atomic.Int64
	bytes     atomic.Int64
}

// PoolOption configures a WriterPool.
type PoolOption func(*WriterPool)

// WithRetry sets the per-job retry policy.
func WithRetry(rc errors.RetryConfig) PoolOption {
	return func(p *WriterPool) {
		p.retry = rc
	}
}

// WithFileStatus publishes per-file outcomes to files.
func WithFileStatus(files *status.FileData) PoolOption {
	return func(p *WriterPool) {
		p.status = files
	}
}

// WithMetrics records writes in the core metrics.
func WithMetrics(m *metric.Metrics) PoolOption {
	return func(p *WriterPool) {
		p.metrics = m
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *WriterPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewWriterPool creates a pool of workers writers.
func NewWriterPool(queue *Queue, files *Collection, state *threadstate.Machine, workers int, opts ...PoolOption) (*WriterPool, error) {
	if queue == nil || files == nil || state == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "WriterPool", "NewWriterPool", "check dependencies")
	}
	if workers <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d writers", errors.ErrInvalidConfig, workers),
			"WriterPool", "NewWriterPool", "check worker count")
	}
	if files.Len() != queue.NumFiles() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: queue serves %d files, collection has %d", errors.ErrInvalidConfig, queue.NumFiles(), files.Len()),
			"WriterPool", "NewWriterPool", "check file count")
	}

	p := &WriterPool{
		queue:   queue,
		files:   files,
		state:   state,
		workers: workers,
		retry:   errors.DefaultRetryConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "writer-pool")
	return p, nil
}

// Start launches the writers. The queue is closed when the machine is
// terminated or ctx is done, which wakes writers blocked in Dequeue.
func (p *WriterPool) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "WriterPool", "Start", "check running state")
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	go func() {
		select {
		case <-p.state.Done():
		case <-ctx.Done():
		}
		p.queue.Close()
	}()

	p.logger.Info("writer pool started",
		"workers", p.workers,
		"files", p.files.Len(),
		"queue_capacity", p.queue.Capacity(),
		"policy", p.queue.Policy().String())
	return nil
}

// Wait blocks until every writer has exited, then releases and accounts
// for jobs that were still queued.
func (p *WriterPool) Wait() {
	p.wg.Wait()
	p.drainOnce.Do(p.abandonPending)
}

func (p *WriterPool) abandonPending() {
	jobs := p.queue.DrainPending()
	for _, job := range jobs {
		p.abandon(job)
	}
	if len(jobs) > 0 {
		p.logger.Warn("abandoned queued write jobs at shutdown", "jobs", len(jobs))
	}
}

func (p *WriterPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if p.state.WaitForRunPermission() == threadstate.Terminate {
			return
		}
		job, err := p.queue.Dequeue()
		if err != nil {
			p.logger.Debug("writer exiting", "writer", id, "reason", err)
			return
		}
		p.process(ctx, job)
		p.queue.Done(job.File)
	}
}

// process writes one job with bounded retry and always releases its
// buffer.
func (p *WriterPool) process(ctx context.Context, job Job) {
	defer job.release()

	entry := p.entry(job.File)
	if entry != nil && entry.Errored() {
		p.skipped.Add(1)
		entry.AddAbandoned()
		p.logger.Debug("write skipped", "file", job.File, "bytes", len(job.Data), "error", errors.ErrFileErrored)
		return
	}

	cfg := p.retry.ToRetryConfig()
	cfg.OnRetry = func(err error, attempt int, delay time.Duration) {
		p.logger.Warn("retrying write",
			"file", job.File,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	start := time.Now()
	err := retry.Do(ctx, cfg, func() error {
		_, err := p.files.Write(job.File, job.Data)
		return err
	})
	if err != nil && ctx.Err() != nil {
		// forced shutdown, the file itself is fine
		p.abandoned.Add(1)
		if entry != nil {
			entry.AddAbandoned()
		}
		p.logger.Warn("write abandoned at shutdown", "file", job.File, "bytes", len(job.Data), "error", err)
		return
	}
	if err != nil {
		p.failed.Add(1)
		p.metrics.RecordWriteError(job.File)
		if entry != nil {
			entry.AddError()
			entry.MarkErrored()
		}
		p.logger.Error("write failed, file marked errored",
			"file", job.File,
			"bytes", len(job.Data),
			"error", err)
		return
	}

	p.written.Add(1)
	p.bytes.Add(int64(len(job.Data)))
	p.metrics.RecordWrite(job.File, len(job.Data), time.Since(start).Seconds())
	if entry != nil {
		entry.AddWrite(len(job.Data))
	}
}

func (p *WriterPool) abandon(job Job) {
	defer job.release()
	p.abandoned.Add(1)
	if entry := p.entry(job.File); entry != nil {
		entry.AddAbandoned()
	}
}

func (p *WriterPool) entry(file int) *status.FileEntry {
	if p.status == nil {
		return nil
	}
	return p.status.File(file)
}

// WriterStats accounts for every job the pool has seen.
type WriterStats struct {
	Workers   int   `json:"workers"`
	Written   int64 `json:"written"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Abandoned int64 `json:"abandoned"`
	Bytes     int64 `json:"bytes"`
	Queued    int   `json:"queued"`
	InFlight  int   `json:"in_flight"`
}

// Stats returns current statistics.
func (p *WriterPool) Stats() WriterStats {
	return WriterStats{
		Workers:   p.workers,
		Written:   p.written.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		Abandoned: p.abandoned.Load(),
		Bytes:     p.bytes.Load(),
		Queued:    p.queue.Len(),
		InFlight:  p.queue.InFlight(),
	}
}
