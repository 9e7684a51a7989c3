package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
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

func fastRetry() errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2,
	}
}

type writerHarness struct {
	pool    *bufferpool.Pool[int]
	files   *status.FileData
	coll    *Collection
	queue   *Queue
	machine *threadstate.Machine
	writers *WriterPool
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, numFiles, numBuffers, workers int, wopts []WrapperOption, popts ...PoolOption) *writerHarness {
	t.Helper()
	h := &writerHarness{files: status.NewFileData(numFiles)}

	var err error
	h.pool, err = bufferpool.New[int]("output", numBuffers, 256)
	require.NoError(t, err)
	h.coll, err = NewCollection(numFiles, h.files, nil, wopts...)
	require.NoError(t, err)
	_, err = h.coll.OpenRun(t.TempDir(), "test", 1)
	require.NoError(t, err)
	h.queue, err = NewQueue(numFiles, numBuffers)
	require.NoError(t, err)
	h.machine = threadstate.New("file-output")

	popts = append([]PoolOption{WithFileStatus(h.files), WithRetry(fastRetry())}, popts...)
	h.writers, err = NewWriterPool(h.queue, h.coll, h.machine, workers, popts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.cancel = cancel
	require.NoError(t, h.writers.Start(ctx))
	return h
}

func (h *writerHarness) submit(t *testing.T, file int, seq uint64) {
	t.Helper()
	b, err := h.pool.Acquire()
	require.NoError(t, err)
	n, err := event.Encode(b.Data(), event.Record{Board: uint16(file), Sequence: seq})
	require.NoError(t, err)
	b.SetLen(n)
	b.Info = file
	require.NoError(t, h.queue.Enqueue(Job{File: file, Data: b.Bytes(), Release: b.Release}))
}

func (h *writerHarness) shutdown(t *testing.T) {
	t.Helper()
	h.machine.RequestTerminate()
	done := make(chan struct{})
	go func() {
		h.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer pool did not exit after terminate")
	}
	require.NoError(t, h.coll.Close())
}

func readSequences(t *testing.T, path string) []uint64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var seqs []uint64
	rd := event.NewReader(f)
	for {
		r, err := rd.Next()
		if err == io.EOF {
			return seqs
		}
		require.NoError(t, err)
		seqs = append(seqs, r.Sequence)
	}
}

func TestNewWriterPool_Validation(t *testing.T) {
	q, err := NewQueue(2, 4)
	require.NoError(t, err)
	c, err := NewCollection(2, nil, nil)
	require.NoError(t, err)
	m := threadstate.New("w")

	_, err = NewWriterPool(nil, c, m, 1)
	assert.Error(t, err)
	_, err = NewWriterPool(q, c, m, 0)
	assert.Error(t, err)

	c3, err := NewCollection(3, nil, nil)
	require.NoError(t, err)
	_, err = NewWriterPool(q, c3, m, 1)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	wp, err := NewWriterPool(q, c, m, 1)
	require.NoError(t, err)
	require.NoError(t, wp.Start(context.Background()))
	assert.ErrorIs(t, wp.Start(context.Background()), errors.ErrAlreadyStarted)
	m.RequestTerminate()
	wp.Wait()
}

func TestWriterPool_EndToEndAlternatingFiles(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	h := newHarness(t, 2, 4, 2, nil, WithMetrics(registry.CoreMetrics()))
	require.NoError(t, h.machine.RequestRun())

	const events = 1000
	for seq := uint64(0); seq < events; seq++ {
		h.submit(t, int(seq%2), seq)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.queue.WaitIdle(ctx))
	paths := []string{h.coll.wrappers[0].Path(), h.coll.wrappers[1].Path()}
	h.shutdown(t)

	for file, path := range paths {
		seqs := readSequences(t, path)
		require.Len(t, seqs, events/2)
		for i, seq := range seqs {
			assert.Equal(t, uint64(2*i+file), seq, "file %d position %d", file, i)
		}
	}

	assert.Equal(t, 4, h.pool.Snapshot().Free, "every buffer back in free")
	stats := h.writers.Stats()
	assert.Equal(t, int64(events), stats.Written)
	assert.Zero(t, stats.Failed+stats.Skipped+stats.Abandoned)
	assert.Equal(t, uint64(events/2), h.files.File(0).Writes())
	assert.Equal(t, h.files.File(1).Size(), int64(stats.Bytes/2))
}

func TestWriterPool_RetriesTransientFailures(t *testing.T) {
	flaky := &flakyFile{failures: 2, err: syscall.EAGAIN}
	open := WithOpener(func(string) (File, error) { return flaky, nil })
	h := newHarness(t, 1, 2, 1, []WrapperOption{open})
	require.NoError(t, h.machine.RequestRun())

	h.submit(t, 0, 7)
	require.NoError(t, h.queue.WaitIdle(context.Background()))
	h.shutdown(t)

	assert.Equal(t, int64(1), h.writers.Stats().Written)
	assert.False(t, h.files.File(0).Errored())
	assert.Equal(t, event.HeaderSize, flaky.buf.Len())
	assert.Equal(t, 2, h.pool.Snapshot().Free)
}

func TestWriterPool_PersistentFailureMarksFileErrored(t *testing.T) {
	broken := &flakyFile{failures: 1000, err: syscall.EAGAIN}
	open := WithOpener(func(path string) (File, error) {
		if filepath.Base(path) == RunFileName("test", 1, 0) {
			return broken, nil
		}
		return OpenTruncate(path)
	})
	h := newHarness(t, 2, 4, 2, []WrapperOption{open})
	require.NoError(t, h.machine.RequestRun())

	h.submit(t, 0, 0)
	require.NoError(t, h.queue.WaitIdle(context.Background()))
	require.True(t, h.files.File(0).Errored())

	// later jobs for the errored file are skipped; the other file keeps going
	h.submit(t, 0, 2)
	h.submit(t, 1, 1)
	require.NoError(t, h.queue.WaitIdle(context.Background()))
	path1 := h.coll.wrappers[1].Path()
	h.shutdown(t)

	stats := h.writers.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(1), stats.Written)
	assert.Equal(t, uint64(1), h.files.File(0).Errors())
	assert.Equal(t, uint64(1), h.files.File(0).Abandoned())
	assert.Equal(t, []uint64{1}, readSequences(t, path1))
	assert.Equal(t, 4, h.pool.Snapshot().Free, "failed and skipped buffers are released")
}

func TestWriterPool_PausesWhileStopped(t *testing.T) {
	h := newHarness(t, 1, 3, 2, nil)

	h.submit(t, 0, 1)
	h.submit(t, 0, 2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), h.writers.Stats().Written)
	assert.Equal(t, 2, h.queue.Len())

	require.NoError(t, h.machine.RequestRun())
	require.NoError(t, h.queue.WaitIdle(context.Background()))
	assert.Equal(t, int64(2), h.writers.Stats().Written)
	h.shutdown(t)
}

func TestWriterPool_TerminateAbandonsQueuedJobs(t *testing.T) {
	h := newHarness(t, 2, 4, 2, nil)

	for seq := uint64(0); seq < 3; seq++ {
		h.submit(t, int(seq%2), seq)
	}
	h.shutdown(t)

	stats := h.writers.Stats()
	assert.Equal(t, int64(3), stats.Abandoned)
	assert.Equal(t, int64(0), stats.Written)
	assert.Equal(t, uint64(2), h.files.File(0).Abandoned())
	assert.Equal(t, 4, h.pool.Snapshot().Free, "abandoned buffers are released")
}

func TestWriterPool_CancelDuringRetryAbandonsWithoutErroring(t *testing.T) {
	stuck := &flakyFile{failures: 1000, err: syscall.EAGAIN}
	open := WithOpener(func(string) (File, error) { return stuck, nil })
	slow := errors.RetryConfig{MaxRetries: 50, InitialDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 1}
	h := newHarness(t, 1, 2, 1, []WrapperOption{open}, WithRetry(slow))
	require.NoError(t, h.machine.RequestRun())

	h.submit(t, 0, 3)
	require.Eventually(t, func() bool {
		stuck.mu.Lock()
		defer stuck.mu.Unlock()
		return stuck.failures < 1000
	}, 2*time.Second, time.Millisecond)

	h.cancel()
	h.shutdown(t)

	stats := h.writers.Stats()
	assert.Equal(t, int64(1), stats.Abandoned)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Written)
	assert.False(t, h.files.File(0).Errored(), "a cancelled write does not blame the file")
	assert.Equal(t, uint64(1), h.files.File(0).Abandoned())
	assert.Equal(t, 2, h.pool.Snapshot().Free)
}
