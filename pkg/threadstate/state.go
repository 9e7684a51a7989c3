package threadstate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/orchid/errors"
)

// State is the lifecycle state of one role.
type State int32

// Lifecycle states
const (
	Stopped State = iota
	Running
	Terminate
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Observer is called under the machine lock after every state change.
type Observer func(name string, s State)

// Machine is a Stopped/Running/Terminate state machine with broadcast wake.
type Machine struct {
	name     string
	observer Observer

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	acks  int
	runs  uint64 // incremented by every RequestRun
	done  chan struct{}

	// mirror allows lock-free polling between units of work
	mirror atomic.Int32
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers a callback for state changes (metrics, logging).
func WithObserver(fn Observer) Option {
	return func(m *Machine) {
		m.observer = fn
	}
}

// New creates a Machine in the Stopped state.
func New(name string, opts ...Option) *Machine {
	m := &Machine{
		name:  name,
		state: Stopped,
		done:  make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	if m.observer != nil {
		m.observer(m.name, Stopped)
	}
	return m
}

// Name returns the role name.
func (m *Machine) Name() string {
	return m.name
}

// State returns the current state without taking the lock.
func (m *Machine) State() State {
	return State(m.mirror.Load())
}

// Terminated reports whether Terminate has been requested.
func (m *Machine) Terminated() bool {
	return m.State() == Terminate
}

// Done is closed once Terminate has been requested.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// RequestRun moves the machine to Running and resets the stop
// acknowledgement count.
func (m *Machine) RequestRun() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Terminate {
		return errors.WrapInvalid(errors.ErrTerminated, "Machine", "RequestRun", "run "+m.name)
	}
	m.acks = 0
	m.runs++
	m.setLocked(Running)
	return nil
}

// RequestStop moves the machine to Stopped.
func (m *Machine) RequestStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Terminate {
		return errors.WrapInvalid(errors.ErrTerminated, "Machine", "RequestStop", "stop "+m.name)
	}
	m.setLocked(Stopped)
	return nil
}

// RequestTerminate moves the machine to Terminate. It is idempotent.
func (m *Machine) RequestTerminate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Terminate {
		return
	}
	m.setLocked(Terminate)
	close(m.done)
}

func (m *Machine) setLocked(s State) {
	m.state = s
	m.mirror.Store(int32(s))
	if m.observer != nil {
		m.observer(m.name, s)
	}
	m.cond.Broadcast()
}

// WaitForRunPermission blocks while the machine is Stopped and returns
// Running or Terminate. The stop is acknowledged before the first block and
// again for every run the caller sleeps through, since RequestRun resets
// the count.
func (m *Machine) WaitForRunPermission() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	acked, ackedRun := false, m.runs
	for m.state == Stopped {
		if !acked || ackedRun != m.runs {
			m.acknowledgeLocked()
			acked, ackedRun = true, m.runs
		}
		m.cond.Wait()
	}
	return m.state
}

// AcknowledgeStop records that one worker has quiesced.
func (m *Machine) AcknowledgeStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acknowledgeLocked()
}

func (m *Machine) acknowledgeLocked() {
	m.acks++
	m.cond.Broadcast()
}

// StopAcknowledgements returns how many workers have acknowledged the
// current stop.
func (m *Machine) StopAcknowledgements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks
}

// WaitStopAcknowledged blocks until n workers have acknowledged the stop,
// the machine has been terminated, or ctx is done. It returns ErrInterrupted
// if the machine is restarted while waiting.
func (m *Machine) WaitStopAcknowledged(ctx context.Context, n int) error {
	stop := context.AfterFunc(ctx, m.Broadcast)
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		switch {
		case m.state == Terminate:
			return nil
		case m.state == Running:
			return errors.WrapTransient(errors.ErrInterrupted, "Machine", "WaitStopAcknowledged", "wait for "+m.name)
		case m.acks >= n:
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Machine", "WaitStopAcknowledged", "wait for "+m.name)
		}
		m.cond.Wait()
	}
}

// Update runs fn under the machine lock and wakes every waiter. Controllers
// use it to change role-specific wake conditions.
func (m *Machine) Update(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		fn()
	}
	m.cond.Broadcast()
}

// Broadcast wakes every waiter so it re-evaluates its condition.
func (m *Machine) Broadcast() {
	m.Update(nil)
}

// Await blocks until pred returns true or the machine is terminated. pred
// is evaluated under the machine lock with the current state.
func (m *Machine) Await(pred func(State) bool) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.state != Terminate && !pred(m.state) {
		m.cond.Wait()
	}
	return m.state
}
