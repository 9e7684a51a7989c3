package router

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/orchid/control"
	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/event"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/output/file"
	"github.com/c360/orchid/pkg/bufferpool"
	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/status"
)

// RouteFunc picks the output file for a record. The result is taken modulo
// the number of files.
type RouteFunc func(r event.Record) int

// ByBoard routes every record of a board to the same file.
func ByBoard(r event.Record) int {
	return int(r.Board)
}

// Option configures a Router.
type Option func(*Router)

// WithRoute replaces ByBoard.
func WithRoute(fn RouteFunc) Option {
	return func(r *Router) {
		if fn != nil {
			r.route = fn
		}
	}
}

// WithAcquisitionData counts triggers and bytes per channel.
func WithAcquisitionData(acq *status.AcquisitionData) Option {
	return func(r *Router) { r.acq = acq }
}

// WithFileStatus skips files marked errored.
func WithFileStatus(files *status.FileData) Option {
	return func(r *Router) { r.files = files }
}

// WithMetrics records event counters.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Router moves records from the board pools to the write queue.
type Router struct {
	in    *bufferpool.MultiQueue[event.BufferInfo]
	out   *bufferpool.Pool[int]
	queue *file.Queue
	ctl   *control.Processing

	route   RouteFunc
	acq     *status.AcquisitionData
	files   *status.FileData
	metrics *metric.Metrics
	logger  *slog.Logger

	// one partially filled output buffer per file, goroutine-local
	open []*bufferpool.Buffer[int]

	// bad data arrives in bursts; warnings are sampled
	warnings *rate.Limiter

	buffers atomic.Uint64
	valid   atomic.Uint64
	invalid atomic.Uint64
	jobs    atomic.Uint64
	dropped atomic.Uint64
	flushes atomic.Uint64
}

// Stats are the router's counters.
type Stats struct {
	Buffers uint64 `json:"buffers"`
	Valid   uint64 `json:"valid"`
	Invalid uint64 `json:"invalid"`
	Jobs    uint64 `json:"jobs"`
	Dropped uint64 `json:"dropped"`
	Flushes uint64 `json:"flushes"`
}

// New creates a router. Output buffers come from out and must be at least
// as large as the largest record.
func New(in *bufferpool.MultiQueue[event.BufferInfo], out *bufferpool.Pool[int], queue *file.Queue,
	ctl *control.Processing, opts ...Option,
) (*Router, error) {
	if in == nil || out == nil || queue == nil || ctl == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "validate dependencies")
	}
	r := &Router{
		in:     in,
		out:    out,
		queue:  queue,
		ctl:    ctl,
		route:  ByBoard,
		logger: slog.Default(),
		open:   make([]*bufferpool.Buffer[int], queue.NumFiles()),

		warnings: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r, nil
}

// Run processes buffers until Terminate or until every board pool is closed
// and drained.
func (r *Router) Run(ctx context.Context) error {
	defer r.logger.Debug("router exited", "buffers", r.buffers.Load())

	for {
		switch r.ctl.State() {
		case threadstate.Terminate:
			r.drain()
			r.flushAll()
			return nil
		case threadstate.Stopped:
			r.drain()
			if r.ctl.FlushPending() {
				r.flushAll()
				r.ctl.ClearFlush()
			}
			r.ctl.WaitForRunPermission()
			continue
		}

		b, err := r.in.Take()
		switch {
		case err == nil:
			r.process(b)
		case stderrors.Is(err, errors.ErrInterrupted):
			continue
		case errors.IsClosed(err):
			r.flushAll()
			return nil
		default:
			return err
		}

		if ctx.Err() != nil {
			r.flushAll()
			return nil
		}
	}
}

// drain processes whatever the boards already published without blocking.
func (r *Router) drain() {
	for {
		b, ok := r.in.TryTake()
		if !ok {
			return
		}
		r.process(b)
	}
}

func (r *Router) process(b *bufferpool.Buffer[event.BufferInfo]) {
	defer b.Release()
	r.buffers.Add(1)

	board := b.Info.Board
	data := b.Bytes()
	valid, invalid := 0, 0
	for len(data) > 0 {
		rec, n, err := event.Decode(data)
		if err != nil {
			invalid++
			if r.warnings.Allow() {
				r.logger.Warn("malformed record, rest of buffer skipped",
					"board", board, "sequence", b.Info.Sequence, "error", err)
			}
			break
		}
		raw := data[:n]
		data = data[n:]

		if int(rec.Board) != board {
			invalid++
			if r.warnings.Allow() {
				r.logger.Warn("record from another board",
					"board", board, "record_board", rec.Board, "sequence", rec.Sequence)
			}
			continue
		}
		valid++
		if r.acq != nil {
			r.acq.AddEvent(board, int(rec.Channel), n)
		}
		r.append(r.fileFor(rec), raw)
	}

	r.valid.Add(uint64(valid))
	r.invalid.Add(uint64(invalid))
	if invalid > 0 && r.acq != nil {
		r.acq.AddInvalid(board, invalid)
	}
	r.metrics.RecordEvents(board, valid, invalid)
}

func (r *Router) fileFor(rec event.Record) int {
	i := r.route(rec) % len(r.open)
	if i < 0 {
		i += len(r.open)
	}
	return i
}

func (r *Router) fileErrored(i int) bool {
	if r.files == nil {
		return false
	}
	e := r.files.File(i)
	return e != nil && e.Errored()
}

// append copies raw into the open buffer of file i, flushing it first when
// raw does not fit.
func (r *Router) append(i int, raw []byte) {
	if r.fileErrored(i) {
		r.drop(i)
		return
	}

	b := r.open[i]
	if b != nil && b.Remaining() < len(raw) {
		r.flush(i)
		b = nil
	}
	if b == nil {
		if len(raw) > r.out.SlotSize() {
			r.drop(i)
			r.logger.Error("record larger than output buffer", "file", i, "size", len(raw))
			return
		}
		var err error
		b, err = r.out.Acquire()
		if err != nil {
			r.drop(i)
			return
		}
		b.Info = i
		r.open[i] = b
	}
	b.Append(raw)
}

// flush hands the open buffer of file i to the write queue.
func (r *Router) flush(i int) {
	b := r.open[i]
	if b == nil {
		return
	}
	r.open[i] = nil
	if b.Len() == 0 {
		b.Release()
		return
	}

	job := file.Job{File: i, Data: b.Bytes(), Release: b.Release}
	if err := r.queue.Enqueue(job); err != nil {
		b.Release()
		r.drop(i)
		r.logger.Warn("write job dropped", "file", i, "bytes", len(job.Data), "error", err)
		return
	}
	r.jobs.Add(1)
}

// drop counts data for file i that will never reach it.
func (r *Router) drop(i int) {
	r.dropped.Add(1)
	if r.files != nil {
		if e := r.files.File(i); e != nil {
			e.AddAbandoned()
		}
	}
}

func (r *Router) flushAll() {
	for i := range r.open {
		r.flush(i)
	}
	r.flushes.Add(1)
}

// Stats returns the router's counters.
func (r *Router) Stats() Stats {
	return Stats{
		Buffers: r.buffers.Load(),
		Valid:   r.valid.Load(),
		Invalid: r.invalid.Load(),
		Jobs:    r.jobs.Load(),
		Dropped: r.dropped.Load(),
		Flushes: r.flushes.Load(),
	}
}
