package digitizer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/event"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/bufferpool"
	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/status"
)

// Reader moves buffers from one Digitizer into its pool.
type Reader struct {
	dev     Digitizer
	pool    *bufferpool.Pool[event.BufferInfo]
	state   *threadstate.Machine
	acq     *status.AcquisitionData
	metrics *metric.Metrics
	logger  *slog.Logger

	sequence uint64
	warnings *rate.Limiter
}

// NewReader creates a reader. acq, metrics and logger may be nil.
func NewReader(dev Digitizer, pool *bufferpool.Pool[event.BufferInfo], state *threadstate.Machine,
	acq *status.AcquisitionData, metrics *metric.Metrics, logger *slog.Logger,
) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		dev:     dev,
		pool:    pool,
		state:   state,
		acq:     acq,
		metrics: metrics,
		logger:  logger.With("component", "digitizer-reader", "board", dev.Board()),

		warnings: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Run loops until Terminate or the pool closes. A fatal device error stops
// this board only and is returned.
func (r *Reader) Run(ctx context.Context) error {
	board := r.dev.Board()
	r.logger.Debug("reader started")
	defer r.logger.Debug("reader exited", "buffers", r.sequence)

	for {
		if r.state.WaitForRunPermission() == threadstate.Terminate {
			return nil
		}

		b, ok := r.pool.TryAcquire()
		if !ok {
			if r.acq != nil {
				r.acq.AddBackpressure()
			}
			var err error
			b, err = r.pool.Acquire()
			if err != nil {
				if errors.IsClosed(err) {
					return nil
				}
				return err
			}
		}

		// the wait for a buffer may have spanned a stop
		if r.state.State() != threadstate.Running {
			b.Release()
			continue
		}

		n, err := r.dev.Fill(ctx, b.Data())
		if err != nil {
			b.Release()
			if ctx.Err() != nil {
				return nil
			}
			if errors.IsFatal(err) || errors.IsInvalid(err) {
				r.logger.Error("digitizer failed, board stopped", "error", err)
				return errors.Wrap(err, "Reader", "Run", "fill buffer")
			}
			if r.warnings.Allow() {
				r.logger.Warn("digitizer read failed", "error", err)
			}
			continue
		}
		if n == 0 {
			b.Release()
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		b.SetLen(n)
		b.Info = event.BufferInfo{
			Board:     board,
			Length:    n,
			Sequence:  r.sequence,
			Timestamp: time.Now(),
		}
		if err := r.pool.Publish(b); err != nil {
			if errors.IsClosed(err) {
				return nil
			}
			return err
		}
		r.sequence++
		if r.acq != nil {
			r.acq.AddBuffer(board)
		}
		r.metrics.RecordBufferAcquired(board)
	}
}
