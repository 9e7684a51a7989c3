package threadstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchid/errors"
)

func TestMachine_InitialState(t *testing.T) {
	m := New("test")
	assert.Equal(t, Stopped, m.State())
	assert.False(t, m.Terminated())
	assert.Equal(t, "test", m.Name())
	assert.Equal(t, "stopped", m.State().String())
}

func TestMachine_RunReturnsImmediately(t *testing.T) {
	m := New("test")
	require.NoError(t, m.RequestRun())
	assert.Equal(t, Running, m.WaitForRunPermission())
}

func TestMachine_BroadcastWakesAllWaiters(t *testing.T) {
	m := New("test")

	const workers = 8
	results := make(chan State, workers)
	for i := 0; i < workers; i++ {
		go func() {
			results <- m.WaitForRunPermission()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitStopAcknowledged(ctx, workers))

	require.NoError(t, m.RequestRun())
	for i := 0; i < workers; i++ {
		select {
		case s := <-results:
			assert.Equal(t, Running, s)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not woken by RequestRun")
		}
	}
}

func TestMachine_TerminateIsAbsorbing(t *testing.T) {
	m := New("test")
	m.RequestTerminate()
	m.RequestTerminate()

	err := m.RequestRun()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTerminated)
	assert.True(t, errors.IsInvalid(err))

	require.ErrorIs(t, m.RequestStop(), errors.ErrTerminated)
	assert.Equal(t, Terminate, m.State())
	assert.Equal(t, Terminate, m.WaitForRunPermission())

	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed after terminate")
	}
}

func TestMachine_TerminateWakesStoppedWaiters(t *testing.T) {
	m := New("test")

	var wg sync.WaitGroup
	var terminated atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.WaitForRunPermission() == Terminate {
				terminated.Add(1)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitStopAcknowledged(ctx, 3))
	m.RequestTerminate()

	waitOrFail(t, &wg)
	assert.Equal(t, int32(3), terminated.Load())
}

func TestMachine_TerminateObservableWhileRunning(t *testing.T) {
	m := New("test")
	require.NoError(t, m.RequestRun())

	var units atomic.Int64
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			if m.WaitForRunPermission() == Terminate {
				return
			}
			units.Add(1)
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool { return units.Load() > 3 }, 2*time.Second, time.Millisecond)
	m.RequestTerminate()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("running worker did not observe terminate")
	}
}

func TestMachine_StopAcknowledgement(t *testing.T) {
	m := New("test")
	require.NoError(t, m.RequestRun())

	paused := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			for {
				s := m.WaitForRunPermission()
				if s == Terminate {
					return
				}
				select {
				case paused <- struct{}{}:
				default:
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	defer m.RequestTerminate()

	require.NoError(t, m.RequestStop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitStopAcknowledged(ctx, 2))
	assert.GreaterOrEqual(t, m.StopAcknowledgements(), 2)

	require.NoError(t, m.RequestRun())
	assert.Equal(t, 0, m.StopAcknowledgements())
}

func TestMachine_ParkedWorkerAcknowledgesEveryStop(t *testing.T) {
	m := New("test")
	defer m.RequestTerminate()

	go func() {
		for m.WaitForRunPermission() != Terminate {
			m.Await(func(s State) bool { return s != Running })
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitStopAcknowledged(ctx, 1), "initial park")

	for i := 0; i < 200; i++ {
		require.NoError(t, m.RequestRun())
		require.NoError(t, m.RequestStop())

		stepCtx, stepCancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := m.WaitStopAcknowledged(stepCtx, 1)
		stepCancel()
		require.NoError(t, err, "cycle %d", i)
	}
}

func TestMachine_WaitStopAcknowledgedContext(t *testing.T) {
	m := New("test")
	require.NoError(t, m.RequestRun())
	require.NoError(t, m.RequestStop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WaitStopAcknowledged(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMachine_WaitStopAcknowledgedInterruptedByRun(t *testing.T) {
	m := New("test")
	require.NoError(t, m.RequestRun())
	require.NoError(t, m.RequestStop())

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.WaitStopAcknowledged(context.Background(), 5)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.RequestRun())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by RequestRun")
	}
}

func TestMachine_UpdateAndAwait(t *testing.T) {
	m := New("test")
	flag := false

	got := make(chan State, 1)
	go func() {
		got <- m.Await(func(State) bool { return flag })
	}()

	time.Sleep(10 * time.Millisecond)
	m.Update(func() { flag = true })

	select {
	case s := <-got:
		assert.Equal(t, Stopped, s)
	case <-time.After(2 * time.Second):
		t.Fatal("Await not woken by Update")
	}
}

func TestMachine_Observer(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	m := New("writer", WithObserver(func(name string, s State) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "writer", name)
		seen = append(seen, s)
	}))

	require.NoError(t, m.RequestRun())
	require.NoError(t, m.RequestStop())
	m.RequestTerminate()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Stopped, Running, Stopped, Terminate}, seen)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for goroutines")
	}
}
