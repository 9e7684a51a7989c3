package file

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/buffer"
)

// MaximumWriteQueueSize bounds the number of write jobs that may be queued.
// Every queued job pins one output buffer, so this is also the ceiling on
// output buffers.
const MaximumWriteQueueSize = 1024

// Job is one buffer destined for one file.
type Job struct {
	File int
	Data []byte

	// Release returns the buffer behind Data to its pool. The writer pool
	// calls it exactly once, whatever the outcome.
	Release func()
}

func (j Job) release() {
	if j.Release != nil {
		j.Release()
	}
}

// Policy selects what Enqueue does on a full queue.
type Policy int

const (
	// PolicyBlock makes Enqueue wait for space: disk speed throttles
	// processing, and through the buffer pools, acquisition.
	PolicyBlock Policy = iota
	// PolicyReject makes Enqueue fail with ErrQueueFull.
	PolicyReject
)

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "block"
}

// ParsePolicy maps "block" and "reject" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "block":
		return PolicyBlock, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyBlock, errors.WrapInvalid(
			fmt.Errorf("%w: unknown overflow policy %q", errors.ErrInvalidConfig, s),
			"file", "ParsePolicy", "parse policy")
	}
}

// Queue holds pending write jobs per file. Dequeue hands out at most one
// job per file at a time: a file is busy from Dequeue until Done, so jobs
// of one file are written in enqueue order even with several writers.
type Queue struct {
	numFiles int
	capacity int
	policy   Policy

	mu       sync.Mutex
	notEmpty *sync.Cond // a job became dispatchable
	notFull  *sync.Cond
	idle     *sync.Cond
	pending  []*buffer.Ring[Job]
	busy     []bool
	total    int
	inFlight int
	next     int
	closed   bool

	stats   *buffer.Statistics
	metrics *buffer.Metrics
}

// QueueOption configures a Queue.
type QueueOption func(*Queue) error

// WithPolicy sets the overflow policy.
func WithPolicy(p Policy) QueueOption {
	return func(q *Queue) error {
		q.policy = p
		return nil
	}
}

// WithQueueMetrics exports queue activity to Prometheus.
func WithQueueMetrics(registry *metric.MetricsRegistry) QueueOption {
	return func(q *Queue) error {
		m, err := buffer.NewMetrics(registry, "write_queue")
		if err != nil {
			return err
		}
		q.metrics = m
		return nil
	}
}

// NewQueue creates a queue for numFiles files holding at most numBuffers
// jobs. It refuses capacities that could deadlock the output pool:
// numFiles < numBuffers < MaximumWriteQueueSize must hold.
func NewQueue(numFiles, numBuffers int, opts ...QueueOption) (*Queue, error) {
	if err := CheckCapacity(numFiles, numBuffers); err != nil {
		return nil, err
	}

	q := &Queue{
		numFiles: numFiles,
		capacity: numBuffers,
		pending:  make([]*buffer.Ring[Job], numFiles),
		busy:     make([]bool, numFiles),
		stats:    buffer.NewStatistics(),
	}
	for i := range q.pending {
		q.pending[i] = buffer.NewRing[Job](numBuffers)
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, errors.Wrap(err, "Queue", "NewQueue", "apply option")
		}
	}
	return q, nil
}

// CheckCapacity validates numFiles < numBuffers < MaximumWriteQueueSize.
func CheckCapacity(numFiles, numBuffers int) error {
	if numFiles <= 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: need at least one file, got %d", errors.ErrCapacity, numFiles),
			"Queue", "CheckCapacity", "validate capacity")
	}
	if numFiles >= numBuffers {
		return errors.WrapFatal(
			fmt.Errorf("%w: %d files need more than %d buffers", errors.ErrCapacity, numFiles, numBuffers),
			"Queue", "CheckCapacity", "validate capacity")
	}
	if numBuffers >= MaximumWriteQueueSize {
		return errors.WrapFatal(
			fmt.Errorf("%w: %d buffers, maximum is %d", errors.ErrCapacity, numBuffers, MaximumWriteQueueSize-1),
			"Queue", "CheckCapacity", "validate capacity")
	}
	return nil
}

// NumFiles returns the number of files served.
func (q *Queue) NumFiles() int { return q.numFiles }

// Capacity returns the maximum number of queued jobs.
func (q *Queue) Capacity() int { return q.capacity }

// Policy returns the overflow policy.
func (q *Queue) Policy() Policy { return q.policy }

// Enqueue adds a job. On a full queue it blocks or fails with ErrQueueFull
// depending on the policy. It returns ErrClosed after Close.
func (q *Queue) Enqueue(job Job) error {
	if job.File < 0 || job.File >= q.numFiles {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d not in [0,%d)", errors.ErrInvalidFileID, job.File, q.numFiles),
			"Queue", "Enqueue", "route job")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	waited := false
	for q.total >= q.capacity && !q.closed {
		if q.policy == PolicyReject {
			q.stats.Reject()
			q.metrics.RecordReject()
			return errors.ErrQueueFull
		}
		if !waited {
			waited = true
			q.stats.Wait()
			q.metrics.RecordWait()
		}
		q.notFull.Wait()
	}
	if q.closed {
		return errors.ErrClosed
	}

	q.pending[job.File].Push(job)
	q.total++
	q.stats.Push()
	q.stats.UpdateDepth(int64(q.total))
	q.metrics.RecordPush(q.total, q.capacity)
	if !q.busy[job.File] {
		q.notEmpty.Broadcast()
	}
	return nil
}

// Dequeue returns the next job of a file no other writer holds, scanning
// files round-robin. It blocks until one is available and returns
// ErrClosed after Close; jobs still pending then are left for
// DrainPending.
func (q *Queue) Dequeue() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return Job{}, errors.ErrClosed
		}
		if job, ok := q.nextLocked(); ok {
			return job, nil
		}
		q.notEmpty.Wait()
	}
}

func (q *Queue) nextLocked() (Job, bool) {
	for i := 0; i < q.numFiles; i++ {
		f := (q.next + i) % q.numFiles
		if q.busy[f] {
			continue
		}
		job, ok := q.pending[f].Pop()
		if !ok {
			continue
		}
		q.busy[f] = true
		q.total--
		q.inFlight++
		q.next = (f + 1) % q.numFiles
		q.stats.Pop()
		q.stats.UpdateDepth(int64(q.total))
		q.metrics.RecordPop(q.total, q.capacity)
		q.notFull.Signal()
		return job, true
	}
	return Job{}, false
}

// Done marks the job dequeued for file as finished, making the file
// available to writers again.
func (q *Queue) Done(file int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if file < 0 || file >= q.numFiles || !q.busy[file] {
		panic(fmt.Errorf("%w: Done for file %d without a dequeued job", errors.ErrOwnership, file))
	}
	q.busy[file] = false
	q.inFlight--
	if !q.pending[file].Empty() {
		q.notEmpty.Broadcast()
	}
	if q.total == 0 && q.inFlight == 0 {
		q.idle.Broadcast()
	}
}

// WaitIdle blocks until no job is queued or in flight, the queue is
// closed, or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for (q.total > 0 || q.inFlight > 0) && !q.closed {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Queue", "WaitIdle", "wait for writers")
		}
		q.idle.Wait()
	}
	return nil
}

// Close wakes every blocked Enqueue, Dequeue and WaitIdle. It is
// idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.idle.Broadcast()
}

// DrainPending removes and returns every queued job so the caller can
// release and account for it.
func (q *Queue) DrainPending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for _, r := range q.pending {
		for {
			job, ok := r.Pop()
			if !ok {
				break
			}
			jobs = append(jobs, job)
		}
	}
	q.total = 0
	q.stats.UpdateDepth(0)
	q.metrics.UpdateDepth(0, q.capacity)
	q.notFull.Broadcast()
	if q.inFlight == 0 {
		q.idle.Broadcast()
	}
	return jobs
}

// Len returns the number of queued jobs, excluding in-flight ones.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// InFlight returns the number of dequeued jobs not yet Done.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Stats returns queue statistics. Waits counts Enqueue calls that blocked
// on a full queue; Rejects counts ErrQueueFull results.
func (q *Queue) Stats() buffer.StatsSummary {
	return q.stats.Summary()
}
