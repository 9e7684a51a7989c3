package digitizer

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/event"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/bufferpool"
	"github.com/c360/orchid/pkg/threadstate"
	"github.com/c360/orchid/status"
)

func TestSimulated_FillsSequentialRecords(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Board: 2, Channels: 3, PayloadSize: 8, MaxEvents: 5})
	buf := make([]byte, 4*(event.HeaderSize+8)+10)

	n, err := sim.Fill(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 4*(event.HeaderSize+8), n)

	var seqs []uint64
	for r, err := range event.Records(buf[:n]) {
		require.NoError(t, err)
		assert.Equal(t, uint16(2), r.Board)
		assert.Equal(t, uint16(r.Sequence%3), r.Channel)
		seqs = append(seqs, r.Sequence)
	}
	assert.Equal(t, []uint64{0, 1, 2, 3}, seqs)

	n, err = sim.Fill(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, event.HeaderSize+8, n, "only one event left before MaxEvents")

	n, err = sim.Fill(context.Background(), buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(5), sim.Generated())
}

func TestSimulated_RecordsPerFill(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Board: 0, RecordsPerFill: 2})
	buf := make([]byte, 1024)
	n, err := sim.Fill(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 2*event.HeaderSize, n)
}

// failingDigitizer returns err on every fill.
type failingDigitizer struct {
	err   error
	calls atomic.Int32
}

func (f *failingDigitizer) Board() int { return 0 }
func (f *failingDigitizer) Fill(context.Context, []byte) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}
func (f *failingDigitizer) Close() error { return nil }

func newReaderHarness(t *testing.T, dev Digitizer, buffers int) (*Reader, *bufferpool.Pool[event.BufferInfo], *threadstate.Machine, *status.AcquisitionData) {
	t.Helper()
	pool, err := bufferpool.New[event.BufferInfo]("board", buffers, 512)
	require.NoError(t, err)
	m := threadstate.New("acquisition")
	acq := status.NewAcquisitionData(4, 4)
	registry := metric.NewMetricsRegistry()
	return NewReader(dev, pool, m, acq, registry.CoreMetrics(), nil), pool, m, acq
}

func TestReader_PublishesStampedBuffers(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Board: 1, Channels: 2, RecordsPerFill: 3})
	r, pool, m, acq := newReaderHarness(t, sim, 4)
	require.NoError(t, m.RequestRun())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	for seq := uint64(0); seq < 10; seq++ {
		b, err := pool.Take()
		require.NoError(t, err)
		assert.Equal(t, 1, b.Info.Board)
		assert.Equal(t, seq, b.Info.Sequence)
		assert.Equal(t, 3*event.HeaderSize, b.Info.Length)
		assert.Equal(t, b.Len(), b.Info.Length)
		b.Release()
	}

	m.RequestTerminate()
	pool.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit")
	}
	assert.GreaterOrEqual(t, acq.Buffers(1), uint64(10))
	assert.Greater(t, acq.Backpressure(), uint64(0), "a 4 buffer pool fills up")
}

func TestReader_ExitsWhenPoolClosesDuringAcquire(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Board: 0})
	r, pool, m, _ := newReaderHarness(t, sim, 2)
	require.NoError(t, m.RequestRun())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool { return pool.Snapshot().Ready == 2 }, 2*time.Second, time.Millisecond)
	pool.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader blocked past pool close")
	}
}

func TestReader_FatalDeviceErrorStopsBoard(t *testing.T) {
	dev := &failingDigitizer{err: errors.WrapFatal(errors.ErrDeviceTimeout, "dev", "Fill", "read")}
	r, pool, m, _ := newReaderHarness(t, dev, 2)
	require.NoError(t, m.RequestRun())

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 2, pool.Snapshot().Free, "buffer released on failure")
}

func TestReader_TransientDeviceErrorsAreRetried(t *testing.T) {
	dev := &failingDigitizer{err: errors.WrapTransient(errors.ErrDeviceTimeout, "dev", "Fill", "read")}
	r, pool, m, _ := newReaderHarness(t, dev, 2)
	require.NoError(t, m.RequestRun())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool { return dev.calls.Load() > 3 }, 2*time.Second, time.Millisecond)
	m.RequestTerminate()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit")
	}
	assert.Equal(t, 2, pool.Snapshot().Free)
}

func TestUDP_ReceivesDatagrams(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	u, err := NewUDP(context.Background(), UDPConfig{Board: 3, Bind: "127.0.0.1", ReadTimeout: 20 * time.Millisecond}, registry, nil)
	require.NoError(t, err)
	defer u.Close()
	assert.Equal(t, 3, u.Board())

	buf := make([]byte, 256)
	n, err := u.Fill(context.Background(), buf)
	require.NoError(t, err)
	assert.Zero(t, n, "timeout yields no data")

	payload, err := event.Append(nil, event.Record{Board: 3, Sequence: 9, Payload: []byte("adc")})
	require.NoError(t, err)

	conn, err := net.Dial("udp", u.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err = u.Fill(context.Background(), buf)
		return err == nil && n > 0
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, payload, buf[:n])
	assert.Equal(t, int64(1), u.Stats().Packets)

	require.NoError(t, u.Close())
	_, err = u.Fill(context.Background(), buf)
	assert.True(t, errors.IsFatal(err))
}

func TestNewUDP_InvalidPort(t *testing.T) {
	_, err := NewUDP(context.Background(), UDPConfig{Port: 70000}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
