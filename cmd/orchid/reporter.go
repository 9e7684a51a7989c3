package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/orchid/engine"
)

// reporter is the display loop: it reads the status cells on its own
// cadence and logs what changed since the last tick.
type reporter struct {
	eng      *engine.Engine
	logger   *slog.Logger
	interval time.Duration

	lastTriggers uint64
	lastBytes    uint64
	lastTick     time.Time
}

func newReporter(eng *engine.Engine, logger *slog.Logger, interval time.Duration) *reporter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &reporter{eng: eng, logger: logger.With("component", "reporter"), interval: interval}
}

func (r *reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.lastTick = time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *reporter) tick(now time.Time) {
	out := r.eng.OutputControl()
	if out.RunID.Changed() {
		r.logger.Info("run settings changed",
			"run_id", out.RunID.Get(),
			"title", out.Title.Get(),
			"number", out.Number.Get(),
			"directory", out.Directory.Get())
	}

	files := r.eng.FileData()
	for i := 0; i < files.Len(); i++ {
		f := files.File(i)
		if f.Name.Changed() {
			r.logger.Info("output file opened", "file", i, "path", f.Name.Get())
		}
	}

	sc := r.eng.SlowControlsData()
	if sc.TerminalVoltages.Changed() {
		r.logger.Debug("power supplies",
			"terminal_v", sc.TerminalVoltages.Get(),
			"sense_v", sc.SenseVoltages.Get(),
			"current_a", sc.Currents.Get(),
			"temperature_c", sc.Temperatures.Get())
	}
	if sc.LastError.Changed() {
		if msg := sc.LastError.Get(); msg != "" {
			r.logger.Warn("slow controls error", "error", msg, "errors", sc.Errors())
		}
	}

	acq := r.eng.AcquisitionData()
	triggers, bytes := acq.TotalTriggers(), acq.TotalBytes()
	elapsed := now.Sub(r.lastTick).Seconds()
	// counters reset at run start
	if triggers >= r.lastTriggers && triggers != r.lastTriggers && elapsed > 0 {
		r.logger.Info("acquiring",
			"mode", out.Mode().String(),
			"events", triggers,
			"event_rate", float64(triggers-r.lastTriggers)/elapsed,
			"mb_per_s", float64(bytes-r.lastBytes)/elapsed/1e6,
			"backpressure", acq.Backpressure())
	}
	r.lastTriggers, r.lastBytes, r.lastTick = triggers, bytes, now
}
