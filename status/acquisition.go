package status

import (
	"sync/atomic"
	"time"
)

// AcquisitionData counts what the digitizer and processing roles have
// seen, per board and per channel.
type AcquisitionData struct {
	boards   int
	channels int

	triggers []atomic.Uint64 // board*channels + channel
	bytes    []atomic.Uint64
	buffers  []atomic.Uint64 // per board
	invalid  []atomic.Uint64 // per board

	backpressure atomic.Uint64
	started      atomic.Int64 // unix nanos of the current run start
}

// NewAcquisitionData sizes the counters for boards x channels.
func NewAcquisitionData(boards, channels int) *AcquisitionData {
	return &AcquisitionData{
		boards:   boards,
		channels: channels,
		triggers: make([]atomic.Uint64, boards*channels),
		bytes:    make([]atomic.Uint64, boards*channels),
		buffers:  make([]atomic.Uint64, boards),
		invalid:  make([]atomic.Uint64, boards),
	}
}

// Boards returns the number of boards.
func (a *AcquisitionData) Boards() int { return a.boards }

// Channels returns the number of channels per board.
func (a *AcquisitionData) Channels() int { return a.channels }

func (a *AcquisitionData) slot(board, channel int) int {
	if board < 0 || board >= a.boards || channel < 0 || channel >= a.channels {
		return -1
	}
	return board*a.channels + channel
}

// AddEvent counts one trigger of size bytes on a channel. Out of range
// indices are ignored.
func (a *AcquisitionData) AddEvent(board, channel, size int) {
	i := a.slot(board, channel)
	if i < 0 {
		return
	}
	a.triggers[i].Add(1)
	a.bytes[i].Add(uint64(size))
}

// AddBuffer counts a buffer published by a board.
func (a *AcquisitionData) AddBuffer(board int) {
	if board >= 0 && board < a.boards {
		a.buffers[board].Add(1)
	}
}

// AddInvalid counts records from a board that failed validation.
func (a *AcquisitionData) AddInvalid(board int, n int) {
	if board >= 0 && board < a.boards && n > 0 {
		a.invalid[board].Add(uint64(n))
	}
}

// AddBackpressure counts a producer that had to wait for a free buffer.
func (a *AcquisitionData) AddBackpressure() {
	a.backpressure.Add(1)
}

// Triggers returns the trigger count of a channel.
func (a *AcquisitionData) Triggers(board, channel int) uint64 {
	if i := a.slot(board, channel); i >= 0 {
		return a.triggers[i].Load()
	}
	return 0
}

// Bytes returns the byte count of a channel.
func (a *AcquisitionData) Bytes(board, channel int) uint64 {
	if i := a.slot(board, channel); i >= 0 {
		return a.bytes[i].Load()
	}
	return 0
}

// Buffers returns the published buffer count of a board.
func (a *AcquisitionData) Buffers(board int) uint64 {
	if board >= 0 && board < a.boards {
		return a.buffers[board].Load()
	}
	return 0
}

// Invalid returns the rejected record count of a board.
func (a *AcquisitionData) Invalid(board int) uint64 {
	if board >= 0 && board < a.boards {
		return a.invalid[board].Load()
	}
	return 0
}

// Backpressure returns how often producers waited for a free buffer.
func (a *AcquisitionData) Backpressure() uint64 {
	return a.backpressure.Load()
}

// TotalTriggers sums triggers over every channel.
func (a *AcquisitionData) TotalTriggers() uint64 {
	var sum uint64
	for i := range a.triggers {
		sum += a.triggers[i].Load()
	}
	return sum
}

// TotalBytes sums bytes over every channel.
func (a *AcquisitionData) TotalBytes() uint64 {
	var sum uint64
	for i := range a.bytes {
		sum += a.bytes[i].Load()
	}
	return sum
}

// StartRun zeroes every counter and records the start time.
func (a *AcquisitionData) StartRun(now time.Time) {
	for i := range a.triggers {
		a.triggers[i].Store(0)
		a.bytes[i].Store(0)
	}
	for i := range a.buffers {
		a.buffers[i].Store(0)
		a.invalid[i].Store(0)
	}
	a.backpressure.Store(0)
	a.started.Store(now.UnixNano())
}

// RunStarted returns when the current run started, or the zero time.
func (a *AcquisitionData) RunStarted() time.Time {
	ns := a.started.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// AcquisitionSnapshot is a display copy of AcquisitionData.
type AcquisitionSnapshot struct {
	Triggers     [][]uint64 `json:"triggers"`
	Bytes        [][]uint64 `json:"bytes"`
	Buffers      []uint64   `json:"buffers"`
	Invalid      []uint64   `json:"invalid"`
	Backpressure uint64     `json:"backpressure"`
	RunStarted   time.Time  `json:"run_started"`
}

// Snapshot copies every counter. Counters keep moving while it runs, so
// the copy is not a single instant.
func (a *AcquisitionData) Snapshot() AcquisitionSnapshot {
	s := AcquisitionSnapshot{
		Triggers:     make([][]uint64, a.boards),
		Bytes:        make([][]uint64, a.boards),
		Buffers:      make([]uint64, a.boards),
		Invalid:      make([]uint64, a.boards),
		Backpressure: a.Backpressure(),
		RunStarted:   a.RunStarted(),
	}
	for b := 0; b < a.boards; b++ {
		s.Triggers[b] = make([]uint64, a.channels)
		s.Bytes[b] = make([]uint64, a.channels)
		for c := 0; c < a.channels; c++ {
			s.Triggers[b][c] = a.Triggers(b, c)
			s.Bytes[b][c] = a.Bytes(b, c)
		}
		s.Buffers[b] = a.Buffers(b)
		s.Invalid[b] = a.Invalid(b)
	}
	return s
}
