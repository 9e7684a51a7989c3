package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/orchid/config"
	"github.com/c360/orchid/control"
	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/event"
	"github.com/c360/orchid/health"
	"github.com/c360/orchid/input/digitizer"
	"github.com/c360/orchid/input/slowcontrols"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/output/file"
	"github.com/c360/orchid/pkg/bufferpool"
	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/processor/router"
	"github.com/c360/orchid/status"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegistry registers metrics with registry instead of a private one.
func WithRegistry(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithDigitizers uses devs instead of building boards from the config.
func WithDigitizers(devs ...digitizer.Digitizer) Option {
	return func(e *Engine) { e.devices = devs }
}

// WithSlowControlsReader replaces the simulated power supply.
func WithSlowControlsReader(r slowcontrols.Reader) Option {
	return func(e *Engine) { e.supply = r }
}

// WithOpener replaces how output files are opened.
func WithOpener(open file.OpenFunc) Option {
	return func(e *Engine) { e.opener = open }
}

// Engine owns every pool, queue, controller and worker of the pipeline.
type Engine struct {
	cfg      *config.Config
	base     *slog.Logger
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	core     *metric.Metrics
	metrics  *engineMetrics
	monitor  *health.Monitor

	acquisition  *status.AcquisitionData
	slowControls *status.SlowControlsData
	fileStatus   *status.FileData
	output       *status.OutputControl

	acqCtl  *control.Acquisition
	procCtl *control.Processing
	fileCtl *control.FileOutput
	slowCtl *control.SlowControls

	devices []digitizer.Digitizer
	supply  slowcontrols.Reader
	opener  file.OpenFunc

	boardPools []*bufferpool.Pool[event.BufferInfo]
	fanIn      *bufferpool.MultiQueue[event.BufferInfo]
	outPool    *bufferpool.Pool[int]
	queue      *file.Queue
	files      *file.Collection
	writers    *file.WriterPool
	router     *router.Router
	readers    []*digitizer.Reader
	poller     *slowcontrols.Poller

	mu           sync.Mutex
	group        *errgroup.Group
	cancel       context.CancelFunc
	routerDone   chan struct{}
	started      bool
	shuttingDown bool
	runStart     time.Time

	failMu   sync.Mutex
	failures map[string]error
}

// New builds the pipeline for cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg.Clone(),
		logger:   slog.Default(),
		monitor:  health.NewMonitor(),
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(e)
	}
	// sub-components tag their own component
	e.base = e.logger
	e.logger = e.base.With("component", "engine")
	if e.registry == nil {
		e.registry = metric.NewMetricsRegistry()
	}
	e.core = e.registry.CoreMetrics()

	var err error
	if e.metrics, err = newEngineMetrics(e.registry); err != nil {
		return nil, err
	}

	if err := e.buildDevices(ctx); err != nil {
		return nil, err
	}
	if err := e.buildPipeline(); err != nil {
		e.closeDevices()
		return nil, err
	}
	return e, nil
}

func (e *Engine) observer() threadstate.Option {
	return threadstate.WithObserver(func(name string, s threadstate.State) {
		e.core.RecordRoleState(name, int(s))
	})
}

func (e *Engine) buildDevices(ctx context.Context) error {
	if len(e.devices) > 0 {
		return nil
	}
	for _, b := range e.cfg.Acquisition.Boards {
		switch b.Type {
		case config.BoardUDP:
			dev, err := digitizer.NewUDP(ctx, digitizer.UDPConfig{
				Board:       b.ID,
				Bind:        b.Bind,
				Port:        b.Port,
				ReadTimeout: b.ReadTimeout.Std(),
			}, e.registry, e.base)
			if err != nil {
				e.closeDevices()
				return err
			}
			e.devices = append(e.devices, dev)
		default:
			e.devices = append(e.devices, digitizer.NewSimulated(digitizer.SimulatedConfig{
				Board:          b.ID,
				Channels:       e.cfg.Acquisition.Channels,
				PayloadSize:    b.PayloadSize,
				RecordsPerFill: b.RecordsPerFill,
				MaxEvents:      b.MaxEvents,
				Interval:       b.Interval.Std(),
			}))
		}
	}
	return nil
}

func (e *Engine) buildPipeline() error {
	cfg := e.cfg
	maxBoard := 0
	for _, d := range e.devices {
		maxBoard = max(maxBoard, d.Board())
	}

	e.acquisition = status.NewAcquisitionData(maxBoard+1, cfg.Acquisition.Channels)
	e.slowControls = status.NewSlowControlsData(cfg.SlowControls.Channels)
	e.fileStatus = status.NewFileData(cfg.Output.Files)
	e.output = status.NewOutputControl(cfg.Run.Directory)

	for _, d := range e.devices {
		p, err := bufferpool.New[event.BufferInfo](fmt.Sprintf("board_%d", d.Board()),
			cfg.Acquisition.BuffersPerBoard, cfg.Acquisition.BufferSize, bufferpool.WithMetrics(e.registry))
		if err != nil {
			return err
		}
		e.boardPools = append(e.boardPools, p)
	}

	var err error
	if e.fanIn, err = bufferpool.NewMultiQueue(e.boardPools...); err != nil {
		return err
	}
	if e.outPool, err = bufferpool.New[int]("output", cfg.Output.Buffers, cfg.Output.BufferSize,
		bufferpool.WithMetrics(e.registry)); err != nil {
		return err
	}

	policy, err := file.ParsePolicy(cfg.Output.Policy)
	if err != nil {
		return err
	}
	if e.queue, err = file.NewQueue(cfg.Output.Files, cfg.Output.Buffers,
		file.WithPolicy(policy), file.WithQueueMetrics(e.registry)); err != nil {
		return err
	}

	wopts := []file.WrapperOption{file.WithMaxSize(cfg.Output.MaxFileSize)}
	if e.opener != nil {
		wopts = append(wopts, file.WithOpener(e.opener))
	}
	if e.files, err = file.NewCollection(cfg.Output.Files, e.fileStatus, e.base, wopts...); err != nil {
		return err
	}

	e.acqCtl = control.NewAcquisition(len(e.devices), e.observer())
	e.procCtl = control.NewProcessing(e.fanIn, e.observer())
	e.fileCtl = control.NewFileOutput(cfg.Output.Writers, e.observer())
	e.slowCtl = control.NewSlowControls(cfg.SlowControls.Interval.Std(), e.observer())

	if e.writers, err = file.NewWriterPool(e.queue, e.files, e.fileCtl.Machine, cfg.Output.Writers,
		file.WithRetry(cfg.Output.Retry.ToErrors()),
		file.WithFileStatus(e.fileStatus),
		file.WithMetrics(e.core),
		file.WithPoolLogger(e.base)); err != nil {
		return err
	}

	if e.router, err = router.New(e.fanIn, e.outPool, e.queue, e.procCtl,
		router.WithAcquisitionData(e.acquisition),
		router.WithFileStatus(e.fileStatus),
		router.WithMetrics(e.core),
		router.WithLogger(e.base)); err != nil {
		return err
	}

	for i, d := range e.devices {
		e.readers = append(e.readers,
			digitizer.NewReader(d, e.boardPools[i], e.acqCtl.Machine, e.acquisition, e.core, e.base))
	}

	if cfg.SlowControls.Enabled {
		if e.supply == nil {
			e.supply = slowcontrols.NewSimulated(cfg.SlowControls.Channels,
				cfg.SlowControls.Voltage, cfg.SlowControls.Current)
		}
		e.poller = slowcontrols.NewPoller(e.supply, e.slowCtl, e.slowControls, e.core, e.base)
		e.poller.Timeout = cfg.SlowControls.Timeout.Std()
	}
	return nil
}

// Start launches every worker. Roles stay stopped until StartRun; slow
// controls start polling immediately. Cancelling ctx does not stop the
// workers: only Shutdown does, so a running run is flushed first.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "check running state")
	}
	e.started = true

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	g, gctx := errgroup.WithContext(wctx)
	e.group = g

	if err := e.writers.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		e.writers.Wait()
		return nil
	})

	e.routerDone = make(chan struct{})
	g.Go(func() error {
		defer close(e.routerDone)
		if err := e.router.Run(gctx); err != nil {
			e.recordFailure(control.RoleProcessing, err)
		}
		return nil
	})

	for _, r := range e.readers {
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				e.recordFailure(control.RoleAcquisition, err)
				e.idleWorker(e.acqCtl.Machine)
			}
			return nil
		})
	}

	if e.poller != nil {
		g.Go(func() error {
			return e.poller.Run(gctx)
		})
		if err := e.slowCtl.RequestRun(); err != nil {
			return err
		}
	}

	e.output.SetMode(status.ModeIdle)
	e.logger.Info("engine started",
		"boards", len(e.readers),
		"files", e.files.Len(),
		"writers", e.cfg.Output.Writers,
		"slow_controls", e.poller != nil)
	return nil
}

// idleWorker keeps a failed worker acknowledging stops so StopAndWait still
// sees every worker quiesce.
func (e *Engine) idleWorker(m *threadstate.Machine) {
	for m.WaitForRunPermission() == threadstate.Running {
		m.Await(func(s threadstate.State) bool { return s != threadstate.Running })
	}
}

func (e *Engine) recordFailure(role string, err error) {
	e.logger.Error("worker failed", "role", role, "error", err)
	e.metrics.recordFailure(role)
	e.failMu.Lock()
	e.failures[role] = err
	e.failMu.Unlock()
}

// StartRun opens the run's files and releases the roles. An empty title
// or zero number keeps the current one.
func (e *Engine) StartRun(title string, number int) (status.RunInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.shuttingDown {
		return status.RunInfo{}, errors.WrapInvalid(errors.ErrNotStarted, "Engine", "StartRun", "check running state")
	}
	if e.output.Mode() == status.ModeRunning {
		return status.RunInfo{}, errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "StartRun", "check run state")
	}

	if title == "" {
		title = e.cfg.Run.Title
		if cur := e.output.Title.Peek(); cur != "" {
			title = cur
		}
	}
	if number <= 0 {
		number = e.cfg.Run.Number
		if cur := e.output.Number.Peek(); cur > 0 {
			number = cur + 1
		}
	}

	run := e.output.BeginRun(title, number, "")
	names, err := e.files.OpenRun(run.Directory, run.Title, run.Number)
	if err != nil {
		return status.RunInfo{}, err
	}
	for i := 0; i < e.fileStatus.Len(); i++ {
		e.fileStatus.File(i).ClearErrored()
	}
	now := time.Now()
	e.acquisition.StartRun(now)
	e.runStart = now

	// back of the pipeline first so nothing waits on a stopped consumer
	for _, m := range []*threadstate.Machine{e.fileCtl.Machine, e.procCtl.Machine, e.acqCtl.Machine} {
		if err := m.RequestRun(); err != nil {
			return status.RunInfo{}, err
		}
	}
	e.output.SetMode(status.ModeRunning)
	e.metrics.recordStart()
	e.logger.Info("run started", "run_id", run.ID, "title", run.Title, "number", run.Number, "files", names)
	return run, nil
}

// StopRun pauses acquisition and returns once everything read so far has
// been written.
func (e *Engine) StopRun(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRunLocked(ctx)
}

func (e *Engine) stopRunLocked(ctx context.Context) error {
	if e.output.Mode() != status.ModeRunning {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Engine", "StopRun", "check run state")
	}
	e.output.SetMode(status.ModeStopping)

	if err := e.acqCtl.StopAndWait(ctx); err != nil {
		return errors.Wrap(err, "Engine", "StopRun", "stop acquisition")
	}
	if err := e.procCtl.StopAndWait(ctx); err != nil {
		return errors.Wrap(err, "Engine", "StopRun", "stop processing")
	}
	if err := e.fileCtl.StopAndWait(ctx, e.queue); err != nil {
		return errors.Wrap(err, "Engine", "StopRun", "stop file output")
	}

	e.output.SetMode(status.ModeIdle)
	elapsed := time.Since(e.runStart)
	e.metrics.recordStop(elapsed.Seconds())
	e.logger.Info("run stopped",
		"run_id", e.output.RunID.Peek(),
		"duration", elapsed.Round(time.Millisecond),
		"events", e.acquisition.TotalTriggers(),
		"bytes", e.acquisition.TotalBytes())
	return nil
}

// Shutdown stops a running run, terminates every role and waits for the
// workers. It is safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return nil
	}
	var errs []error
	if e.started && e.output.Mode() == status.ModeRunning {
		if err := e.stopRunLocked(ctx); err != nil {
			errs = append(errs, err)
			e.logger.Warn("run did not stop cleanly", "error", err)
		}
	}
	e.shuttingDown = true
	e.output.SetMode(status.ModeShutdown)
	started := e.started
	e.mu.Unlock()

	e.slowCtl.RequestTerminate()
	e.acqCtl.RequestTerminate()
	for _, p := range e.boardPools {
		p.Close()
	}

	e.procCtl.RequestTerminate()
	if started {
		select {
		case <-e.routerDone:
		case <-ctx.Done():
			errs = append(errs, errors.WrapTransient(ctx.Err(), "Engine", "Shutdown", "wait for processing"))
			e.cancel()
		}
	}

	e.fileCtl.RequestTerminate()
	e.outPool.Close()
	e.fanIn.Close()

	if started {
		done := make(chan error, 1)
		go func() { done <- e.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, errors.WrapTransient(ctx.Err(), "Engine", "Shutdown", "wait for workers"))
		}
		e.cancel()
	}

	if err := e.files.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.closeDevices(); err != nil {
		errs = append(errs, err)
	}

	ws := e.writers.Stats()
	e.logger.Info("engine stopped",
		"written", ws.Written,
		"failed", ws.Failed,
		"abandoned", ws.Abandoned,
		"bytes", ws.Bytes)
	return stderrors.Join(errs...)
}

func (e *Engine) closeDevices() error {
	var errs []error
	for _, d := range e.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// SetPollInterval changes the slow-controls cadence at runtime.
func (e *Engine) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "SetPollInterval", "check interval")
	}
	e.slowCtl.SetInterval(d)
	return nil
}

// Registry returns the metrics registry.
func (e *Engine) Registry() *metric.MetricsRegistry {
	return e.registry
}

// AcquisitionData returns the live acquisition counters.
func (e *Engine) AcquisitionData() *status.AcquisitionData { return e.acquisition }

// SlowControlsData returns the live power-supply readings.
func (e *Engine) SlowControlsData() *status.SlowControlsData { return e.slowControls }

// FileData returns the live per-file status.
func (e *Engine) FileData() *status.FileData { return e.fileStatus }

// OutputControl returns the run settings.
func (e *Engine) OutputControl() *status.OutputControl { return e.output }
