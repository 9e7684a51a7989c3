package status

import (
	"sync/atomic"
	"time"
)

// SlowControlsData holds the latest power-supply readings, one value per
// channel per measurement.
type SlowControlsData struct {
	TerminalVoltages *Cell[[]float64]
	SenseVoltages    *Cell[[]float64]
	Currents         *Cell[[]float64]
	Temperatures     *Cell[[]float64]
	LastError        *Cell[string]

	channels int
	polls    atomic.Uint64
	errors   atomic.Uint64
	lastPoll atomic.Int64
}

// NewSlowControlsData creates cells for channels power-supply channels.
func NewSlowControlsData(channels int) *SlowControlsData {
	zero := make([]float64, channels)
	return &SlowControlsData{
		TerminalVoltages: NewSliceCell(zero),
		SenseVoltages:    NewSliceCell(zero),
		Currents:         NewSliceCell(zero),
		Temperatures:     NewSliceCell(zero),
		LastError:        NewCell(""),
		channels:         channels,
	}
}

// Channels returns the number of power-supply channels.
func (s *SlowControlsData) Channels() int {
	return s.channels
}

// RecordPoll counts a completed poll. A non-nil err is counted and kept
// as the last error.
func (s *SlowControlsData) RecordPoll(at time.Time, err error) {
	s.polls.Add(1)
	s.lastPoll.Store(at.UnixNano())
	if err != nil {
		s.errors.Add(1)
		s.LastError.Set(err.Error())
	}
}

// Polls returns the number of completed polls.
func (s *SlowControlsData) Polls() uint64 {
	return s.polls.Load()
}

// Errors returns the number of failed polls.
func (s *SlowControlsData) Errors() uint64 {
	return s.errors.Load()
}

// LastPoll returns when the last poll completed.
func (s *SlowControlsData) LastPoll() time.Time {
	ns := s.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
