package engine

import (
	"github.com/c360/orchid/control"
	"github.com/c360/orchid/health"
	"github.com/c360/orchid/output/file"
	"github.com/c360/orchid/pkg/bufferpool"
	"github.com/c360/orchid/processor/router"
	"github.com/c360/orchid/status"
)

// SlowControlsSnapshot is a display copy of the power-supply readings.
type SlowControlsSnapshot struct {
	TerminalVoltages []float64 `json:"terminal_voltages"`
	SenseVoltages    []float64 `json:"sense_voltages"`
	Currents         []float64 `json:"currents"`
	Temperatures     []float64 `json:"temperatures"`
	Polls            uint64    `json:"polls"`
	Errors           uint64    `json:"errors"`
	LastError        string    `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time view of the whole engine for display.
type Snapshot struct {
	Mode         string                     `json:"mode"`
	Run          status.RunInfo             `json:"run"`
	Roles        map[string]string          `json:"roles"`
	Acquisition  status.AcquisitionSnapshot `json:"acquisition"`
	SlowControls SlowControlsSnapshot       `json:"slow_controls"`
	Files        []status.FileSnapshot      `json:"files"`
	Pools        []bufferpool.Snapshot      `json:"pools"`
	Router       router.Stats               `json:"router"`
	Writers      file.WriterStats           `json:"writers"`
}

// Snapshot copies every status without consuming dirty flags, so the
// display loop's change detection is unaffected.
func (e *Engine) Snapshot() Snapshot {
	sc := e.slowControls
	pools := e.fanIn.Snapshots()
	pools = append(pools, e.outPool.Snapshot())

	return Snapshot{
		Mode:        e.output.Mode().String(),
		Run:         e.output.Current(),
		Roles:       e.roleStates(),
		Acquisition: e.acquisition.Snapshot(),
		SlowControls: SlowControlsSnapshot{
			TerminalVoltages: sc.TerminalVoltages.Peek(),
			SenseVoltages:    sc.SenseVoltages.Peek(),
			Currents:         sc.Currents.Peek(),
			Temperatures:     sc.Temperatures.Peek(),
			Polls:            sc.Polls(),
			Errors:           sc.Errors(),
			LastError:        sc.LastError.Peek(),
		},
		Files:   e.fileStatus.Snapshot(),
		Pools:   pools,
		Router:  e.router.Stats(),
		Writers: e.writers.Stats(),
	}
}

func (e *Engine) roleStates() map[string]string {
	return map[string]string{
		control.RoleAcquisition:  e.acqCtl.State().String(),
		control.RoleProcessing:   e.procCtl.State().String(),
		control.RoleFileOutput:   e.fileCtl.State().String(),
		control.RoleSlowControls: e.slowCtl.State().String(),
	}
}

// Health folds role, worker and file health into one status.
func (e *Engine) Health() health.Status {
	e.mu.Lock()
	shuttingDown := e.shuttingDown
	e.mu.Unlock()

	e.monitor.Update(control.RoleAcquisition, health.FromRole(control.RoleAcquisition, e.acqCtl.State(), shuttingDown))
	e.monitor.Update(control.RoleProcessing, health.FromRole(control.RoleProcessing, e.procCtl.State(), shuttingDown))
	e.monitor.Update(control.RoleFileOutput, health.FromRole(control.RoleFileOutput, e.fileCtl.State(), shuttingDown))
	if e.poller != nil {
		s := health.FromRole(control.RoleSlowControls, e.slowCtl.State(), shuttingDown)
		if msg := e.slowControls.LastError.Peek(); msg != "" && s.IsHealthy() && e.slowControls.Errors() > 0 {
			s = health.NewDegraded(control.RoleSlowControls, "last poll error: "+msg)
		}
		e.monitor.Update(control.RoleSlowControls, s)
	}

	e.failMu.Lock()
	for role, err := range e.failures {
		e.monitor.Update(role, health.FromError(role, err))
	}
	e.failMu.Unlock()

	e.monitor.UpdateFiles(e.fileStatus.Snapshot())
	return e.monitor.AggregateHealth("orchid")
}

// HealthFunc adapts Health to the metrics server.
func (e *Engine) HealthFunc() func() (any, bool) {
	return func() (any, bool) {
		h := e.Health()
		return h, !h.IsUnhealthy()
	}
}
