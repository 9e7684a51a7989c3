package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/pkg/threadstate"
)

// Role names used for machines, logs and metrics.
const (
	RoleAcquisition  = "acquisition"
	RoleProcessing   = "processing"
	RoleFileOutput   = "file-output"
	RoleSlowControls = "slow-controls"
)

// Acquisition controls the digitizer readers, one per board.
type Acquisition struct {
	*threadstate.Machine
	workers int
}

// NewAcquisition creates the controller for workers readers.
func NewAcquisition(workers int, opts ...threadstate.Option) *Acquisition {
	return &Acquisition{
		Machine: threadstate.New(RoleAcquisition, opts...),
		workers: workers,
	}
}

// Workers returns the number of readers.
func (a *Acquisition) Workers() int {
	return a.workers
}

// StopAndWait stops acquisition and waits until every reader is paused.
func (a *Acquisition) StopAndWait(ctx context.Context) error {
	if err := a.RequestStop(); err != nil {
		return err
	}
	return a.WaitStopAcknowledged(ctx, a.workers)
}

// Interrupter wakes a consumer blocked in a fan-in wait.
type Interrupter interface {
	Interrupt()
}

// Processing controls the single processing goroutine.
type Processing struct {
	*threadstate.Machine
	interrupter Interrupter
	flush       atomic.Bool
}

// NewProcessing creates the processing controller. in is interrupted on
// every stop and terminate; it may be nil.
func NewProcessing(in Interrupter, opts ...threadstate.Option) *Processing {
	return &Processing{
		Machine:     threadstate.New(RoleProcessing, opts...),
		interrupter: in,
	}
}

// RequestStop asks processing to flush partially filled output buffers and
// pause.
func (p *Processing) RequestStop() error {
	p.flush.Store(true)
	if err := p.Machine.RequestStop(); err != nil {
		return err
	}
	p.interrupt()
	return nil
}

// RequestTerminate terminates processing and wakes it if it is blocked on
// input.
func (p *Processing) RequestTerminate() {
	p.flush.Store(true)
	p.Machine.RequestTerminate()
	p.interrupt()
}

func (p *Processing) interrupt() {
	if p.interrupter != nil {
		p.interrupter.Interrupt()
	}
}

// FlushPending reports whether a stop asked for a flush not yet done.
func (p *Processing) FlushPending() bool {
	return p.flush.Load()
}

// ClearFlush records that the flush has been done.
func (p *Processing) ClearFlush() {
	p.flush.Store(false)
}

// StopAndWait stops processing and waits until it has flushed and paused.
func (p *Processing) StopAndWait(ctx context.Context) error {
	if err := p.RequestStop(); err != nil {
		return err
	}
	return p.WaitStopAcknowledged(ctx, 1)
}

// Idler reports when queued output has been written.
type Idler interface {
	WaitIdle(ctx context.Context) error
}

// FileOutput controls the writer pool.
type FileOutput struct {
	*threadstate.Machine
	workers int
}

// NewFileOutput creates the controller for workers writers.
func NewFileOutput(workers int, opts ...threadstate.Option) *FileOutput {
	return &FileOutput{
		Machine: threadstate.New(RoleFileOutput, opts...),
		workers: workers,
	}
}

// Workers returns the number of writers.
func (f *FileOutput) Workers() int {
	return f.workers
}

// StopAndWait lets the writers finish everything queued, then stops them.
func (f *FileOutput) StopAndWait(ctx context.Context, queue Idler) error {
	if queue != nil {
		if err := queue.WaitIdle(ctx); err != nil {
			return errors.Wrap(err, "FileOutput", "StopAndWait", "drain write queue")
		}
	}
	return f.RequestStop()
}

// SlowControls controls the power-supply poller.
type SlowControls struct {
	*threadstate.Machine
	interval atomic.Int64

	// only touched by the polling goroutine
	last time.Time
}

// NewSlowControls creates the controller with a poll interval.
func NewSlowControls(interval time.Duration, opts ...threadstate.Option) *SlowControls {
	c := &SlowControls{Machine: threadstate.New(RoleSlowControls, opts...)}
	c.interval.Store(int64(interval))
	return c
}

// Interval returns the poll interval.
func (c *SlowControls) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// SetInterval changes the poll interval; a waiting poller picks it up
// immediately.
func (c *SlowControls) SetInterval(d time.Duration) {
	c.interval.Store(int64(d))
	c.Broadcast()
}

// WaitForPoll blocks until a poll is due while Running and returns
// Running, or returns Terminate. While Stopped it waits for run
// permission.
func (c *SlowControls) WaitForPoll() threadstate.State {
	for {
		if c.WaitForRunPermission() == threadstate.Terminate {
			return threadstate.Terminate
		}

		interval := c.Interval()
		due := c.last.Add(interval)
		if !time.Now().Before(due) {
			c.last = time.Now()
			return threadstate.Running
		}

		timer := time.AfterFunc(time.Until(due), c.Broadcast)
		c.Await(func(s threadstate.State) bool {
			return s != threadstate.Running ||
				c.Interval() != interval ||
				!time.Now().Before(due)
		})
		timer.Stop()
	}
}
