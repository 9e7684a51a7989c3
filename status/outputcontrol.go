package status

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Mode is the acquisition mode shown to the operator.
type Mode int32

// Acquisition modes
const (
	ModeIdle Mode = iota
	ModeRunning
	ModeStopping
	ModeShutdown
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRunning:
		return "running"
	case ModeStopping:
		return "stopping"
	case ModeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// RunInfo identifies one run.
type RunInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Number    int    `json:"number"`
	Directory string `json:"directory"`
}

// OutputControl holds the operator-facing run settings.
type OutputControl struct {
	Title     *Cell[string]
	Number    *Cell[int]
	Directory *Cell[string]
	RunID     *Cell[string]

	mode atomic.Int32
}

// NewOutputControl creates settings for runs written below directory.
func NewOutputControl(directory string) *OutputControl {
	return &OutputControl{
		Title:     NewCell(""),
		Number:    NewCell(0),
		Directory: NewCell(directory),
		RunID:     NewCell(""),
	}
}

// BeginRun stores the settings of a new run under a fresh run id.
func (o *OutputControl) BeginRun(title string, number int, directory string) RunInfo {
	if directory == "" {
		directory = o.Directory.Peek()
	}
	run := RunInfo{
		ID:        uuid.NewString(),
		Title:     title,
		Number:    number,
		Directory: directory,
	}
	o.Title.Set(title)
	o.Number.Set(number)
	o.Directory.Set(directory)
	o.RunID.Set(run.ID)
	return run
}

// Current returns the run settings without clearing dirty flags.
func (o *OutputControl) Current() RunInfo {
	return RunInfo{
		ID:        o.RunID.Peek(),
		Title:     o.Title.Peek(),
		Number:    o.Number.Peek(),
		Directory: o.Directory.Peek(),
	}
}

// SetMode sets the acquisition mode.
func (o *OutputControl) SetMode(m Mode) {
	o.mode.Store(int32(m))
}

// Mode returns the acquisition mode.
func (o *OutputControl) Mode() Mode {
	return Mode(o.mode.Load())
}
