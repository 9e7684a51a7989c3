package slowcontrols

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/c360/orchid/control"
	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/retry"
	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/status"
)

// Poller reads the supplies whenever its controller says a poll is due.
type Poller struct {
	reader  Reader
	ctl     *control.SlowControls
	data    *status.SlowControlsData
	metrics *metric.Metrics
	logger  *slog.Logger

	// Timeout bounds a whole poll; zero means no bound beyond ctx.
	Timeout time.Duration
	// Retry applies to each measurement separately.
	Retry retry.Config
}

// DefaultPollRetry retries a transient read once.
func DefaultPollRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  2,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2,
		Retryable: func(err error, _ int) bool {
			return errors.IsTransient(err)
		},
	}
}

// NewPoller creates a poller. metrics and logger may be nil.
func NewPoller(reader Reader, ctl *control.SlowControls, data *status.SlowControlsData,
	metrics *metric.Metrics, logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		reader:  reader,
		ctl:     ctl,
		data:    data,
		metrics: metrics,
		logger:  logger.With("component", "slow-controls"),
		Retry:   DefaultPollRetry(),
	}
}

// Run polls until the controller terminates.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if p.ctl.WaitForPoll() == threadstate.Terminate {
			return nil
		}
		if err := p.Poll(ctx); err != nil {
			p.logger.Warn("power supply poll failed", "error", err)
		}
	}
}

// Poll reads every measurement once. Measurements that succeed are
// published even when others fail.
func (p *Poller) Poll(ctx context.Context) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	reads := []struct {
		read func(context.Context) ([]float64, error)
		cell *status.Cell[[]float64]
	}{
		{p.reader.ReadTerminalVoltages, p.data.TerminalVoltages},
		{p.reader.ReadSenseVoltages, p.data.SenseVoltages},
		{p.reader.ReadCurrents, p.data.Currents},
		{p.reader.ReadTemperatures, p.data.Temperatures},
	}

	var errs []error
	for _, r := range reads {
		values, err := retry.DoWithResult(ctx, p.Retry, func() ([]float64, error) {
			return r.read(ctx)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.cell.Set(values)
	}

	err := stderrors.Join(errs...)
	p.data.RecordPoll(time.Now(), err)
	p.metrics.RecordPoll(err == nil)
	return err
}
