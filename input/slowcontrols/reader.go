package slowcontrols

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/c360/orchid/errors"
)

// Reader reads one value per channel for each power-supply measurement.
type Reader interface {
	ReadTerminalVoltages(ctx context.Context) ([]float64, error)
	ReadSenseVoltages(ctx context.Context) ([]float64, error)
	ReadCurrents(ctx context.Context) ([]float64, error)
	ReadTemperatures(ctx context.Context) ([]float64, error)
}

// Simulated is a Reader producing noisy readings around fixed set points.
type Simulated struct {
	channels int
	voltage  float64
	current  float64

	mu    sync.Mutex
	rng   *rand.Rand
	fail  error
	start time.Time
}

// NewSimulated creates a simulated supply with channels outputs at the
// given voltage and current set points.
func NewSimulated(channels int, voltage, current float64) *Simulated {
	return &Simulated{
		channels: channels,
		voltage:  voltage,
		current:  current,
		rng:      rand.New(rand.NewPCG(uint64(channels), 42)),
		start:    time.Now(),
	}
}

// FailWith makes every subsequent read return err; nil restores normal
// operation.
func (s *Simulated) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *Simulated) read(ctx context.Context, what string, base, noise float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Simulated", "read", what)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrDeviceTimeout, s.fail), "Simulated", "read", what)
	}
	out := make([]float64, s.channels)
	for i := range out {
		out[i] = base + noise*(s.rng.Float64()*2-1)
	}
	return out, nil
}

// ReadTerminalVoltages implements Reader.
func (s *Simulated) ReadTerminalVoltages(ctx context.Context) ([]float64, error) {
	return s.read(ctx, "terminal voltages", s.voltage, 0.01*s.voltage)
}

// ReadSenseVoltages implements Reader. Sense sits slightly below terminal.
func (s *Simulated) ReadSenseVoltages(ctx context.Context) ([]float64, error) {
	return s.read(ctx, "sense voltages", 0.98*s.voltage, 0.01*s.voltage)
}

// ReadCurrents implements Reader.
func (s *Simulated) ReadCurrents(ctx context.Context) ([]float64, error) {
	return s.read(ctx, "currents", s.current, 0.05*s.current)
}

// ReadTemperatures implements Reader. Temperatures drift slowly with
// uptime.
func (s *Simulated) ReadTemperatures(ctx context.Context) ([]float64, error) {
	drift := 2 * math.Sin(time.Since(s.start).Minutes())
	return s.read(ctx, "temperatures", 35+drift, 0.5)
}
