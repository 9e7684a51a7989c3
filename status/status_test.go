package status

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_ReadAfterWrite(t *testing.T) {
	c := NewCell("initial")
	assert.False(t, c.Changed())
	assert.Equal(t, "initial", c.Get())

	c.Set("run-7")
	assert.True(t, c.Changed())
	assert.Equal(t, "run-7", c.Get())
	assert.False(t, c.Changed(), "Get clears the dirty flag")
	assert.Equal(t, "run-7", c.Get(), "value survives the clear")
}

func TestCell_PeekKeepsDirty(t *testing.T) {
	c := NewCell(1)
	c.Set(2)
	assert.Equal(t, 2, c.Peek())
	assert.True(t, c.Changed())
}

func TestCell_GetIfNewerServesManyConsumers(t *testing.T) {
	c := NewCell("a")

	var uiSeen, logSeen uint64
	_, uiSeen, ok := c.GetIfNewer(uiSeen)
	assert.False(t, ok, "nothing set yet")

	c.Set("b")
	v, uiSeen, ok := c.GetIfNewer(uiSeen)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	v, logSeen, ok = c.GetIfNewer(logSeen)
	require.True(t, ok, "second consumer still sees the change")
	assert.Equal(t, "b", v)

	_, _, ok = c.GetIfNewer(uiSeen)
	assert.False(t, ok)
	_, _, ok = c.GetIfNewer(logSeen)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Version())
}

func TestSliceCell_CopiesOnSetAndGet(t *testing.T) {
	src := []float64{1, 2, 3}
	c := NewSliceCell(src)

	src[0] = 99
	got := c.Get()
	assert.Equal(t, []float64{1, 2, 3}, got)

	got[1] = 42
	assert.Equal(t, []float64{1, 2, 3}, c.Peek())

	in := []float64{4, 5, 6}
	c.Set(in)
	in[2] = 0
	assert.Equal(t, []float64{4, 5, 6}, c.Peek())
}

func TestCell_ConcurrentReadersSeeCompleteWrites(t *testing.T) {
	c := NewSliceCell([]float64{0, 0, 0, 0})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := c.Peek()
				for _, x := range v[1:] {
					if x != v[0] {
						t.Errorf("torn read %v", v)
						return
					}
				}
			}
		}()
	}

	for i := 1; i <= 1000; i++ {
		f := float64(i)
		c.Set([]float64{f, f, f, f})
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, []float64{1000, 1000, 1000, 1000}, c.Peek())
}

func TestAcquisitionData_Counters(t *testing.T) {
	a := NewAcquisitionData(2, 4)
	assert.Equal(t, 2, a.Boards())
	assert.Equal(t, 4, a.Channels())

	a.AddEvent(0, 1, 100)
	a.AddEvent(0, 1, 50)
	a.AddEvent(1, 3, 10)
	a.AddEvent(5, 0, 10) // ignored
	a.AddBuffer(1)
	a.AddInvalid(0, 2)
	a.AddBackpressure()

	assert.Equal(t, uint64(2), a.Triggers(0, 1))
	assert.Equal(t, uint64(150), a.Bytes(0, 1))
	assert.Equal(t, uint64(3), a.TotalTriggers())
	assert.Equal(t, uint64(160), a.TotalBytes())
	assert.Equal(t, uint64(1), a.Buffers(1))
	assert.Equal(t, uint64(2), a.Invalid(0))
	assert.Equal(t, uint64(1), a.Backpressure())
	assert.Equal(t, uint64(0), a.Triggers(9, 9))

	snap := a.Snapshot()
	assert.Equal(t, uint64(1), snap.Triggers[1][3])
	assert.Equal(t, []uint64{0, 1}, snap.Buffers)

	now := time.Now()
	a.StartRun(now)
	assert.Equal(t, uint64(0), a.TotalTriggers())
	assert.Equal(t, uint64(0), a.Backpressure())
	assert.Equal(t, now.UnixNano(), a.RunStarted().UnixNano())
}

func TestSlowControlsData_RecordPoll(t *testing.T) {
	s := NewSlowControlsData(3)
	assert.Equal(t, 3, s.Channels())
	assert.True(t, s.LastPoll().IsZero())
	assert.Len(t, s.Temperatures.Peek(), 3)

	now := time.Now()
	s.RecordPoll(now, nil)
	s.RecordPoll(now, fmt.Errorf("snmp timeout"))

	assert.Equal(t, uint64(2), s.Polls())
	assert.Equal(t, uint64(1), s.Errors())
	assert.Equal(t, "snmp timeout", s.LastError.Get())
	assert.False(t, s.LastPoll().IsZero())
}

func TestFileData_Entries(t *testing.T) {
	fd := NewFileData(2)
	assert.Equal(t, 2, fd.Len())
	assert.Nil(t, fd.File(2))

	e := fd.File(1)
	e.Opened("/data/run_0001_file1.dat")
	e.AddWrite(128)
	e.AddWrite(64)
	e.AddError()
	e.AddAbandoned()
	e.MarkErrored()

	snap := fd.Snapshot()
	assert.Equal(t, FileSnapshot{
		Index: 1, Name: "/data/run_0001_file1.dat", Size: 192,
		Writes: 2, Errors: 1, Abandoned: 1, Errored: true,
	}, snap[1])
	assert.True(t, e.Name.Changed(), "Snapshot must not clear the UI dirty flag")

	e.ClearErrored()
	e.Opened("/data/run_0002_file1.dat")
	assert.False(t, e.Errored())
	assert.Equal(t, int64(0), e.Size())
}

func TestOutputControl_BeginRun(t *testing.T) {
	o := NewOutputControl("/data")
	assert.Equal(t, ModeIdle, o.Mode())

	run := o.BeginRun("calibration", 12, "")
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "/data", run.Directory)
	assert.Equal(t, run, o.Current())
	assert.True(t, o.Title.Changed())
	assert.Equal(t, "calibration", o.Title.Get())
	assert.Equal(t, 12, o.Number.Get())

	next := o.BeginRun("physics", 13, "/scratch")
	assert.NotEqual(t, run.ID, next.ID)
	assert.Equal(t, "/scratch", o.Directory.Peek())

	o.SetMode(ModeRunning)
	assert.Equal(t, ModeRunning, o.Mode())
	assert.Equal(t, "running", o.Mode().String())
}
