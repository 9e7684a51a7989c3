package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"device timeout", ErrDeviceTimeout, true},
		{"EAGAIN", syscall.EAGAIN, true},
		{"interrupted", ErrInterrupted, true},
		{"EINTR", &os.PathError{Op: "write", Path: "x", Err: syscall.EINTR}, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"disk full", ErrStorageFull, false},
		{"timeout in message", fmt.Errorf("snmp timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err), "error: %v", test.err)
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"capacity", ErrCapacity, true},
		{"ENOSPC", &os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, true},
		{"read only", &os.PathError{Op: "open", Path: "x", Err: syscall.EROFS}, true},
		{"timeout", ErrDeviceTimeout, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsFatal(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidData))
	assert.True(t, IsInvalid(ErrInvalidFileID))
	assert.True(t, IsInvalid(ErrTerminated))
	assert.True(t, IsInvalid(WrapInvalid(errors.New("x"), "C", "M", "a")))
	assert.False(t, IsInvalid(ErrStorageFull))
}

func TestIsClosed(t *testing.T) {
	assert.True(t, IsClosed(ErrClosed))
	assert.True(t, IsClosed(Wrap(ErrClosed, "Pool", "Acquire", "wait for free buffer")))
	assert.False(t, IsClosed(ErrQueueFull))
	assert.False(t, IsClosed(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(ErrDeviceTimeout))
	assert.Equal(t, ErrorFatal, Classify(ErrStorageFull))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidData))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "C", "M", "a"))

	err := Wrap(ErrFileNotOpen, "Wrapper", "Write", "append record")
	require.Error(t, err)
	assert.Equal(t, "Wrapper.Write: append record failed: file not open", err.Error())
	assert.ErrorIs(t, err, ErrFileNotOpen)
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Nil(t, test.wrap(nil, "C", "M", "a"))

			err := test.wrap(base, "Queue", "Enqueue", "push job")
			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, test.class, ce.Class)
			assert.Equal(t, "Queue", ce.Component)
			assert.Equal(t, "Enqueue", ce.Operation)
			assert.ErrorIs(t, err, base)
			assert.Contains(t, err.Error(), "Queue.Enqueue: push job failed")
		})
	}
}

func TestWrapIO(t *testing.T) {
	assert.Nil(t, WrapIO(nil, "C", "M", "a"))

	noSpace := WrapIO(&fs.PathError{Op: "write", Path: "f", Err: syscall.ENOSPC}, "Wrapper", "Write", "append")
	assert.Equal(t, ErrorFatal, Classify(noSpace))
	assert.ErrorIs(t, noSpace, ErrStorageFull)
	assert.ErrorIs(t, noSpace, syscall.ENOSPC)
	assert.True(t, IsFatal(noSpace))

	flaky := WrapIO(&fs.PathError{Op: "write", Path: "f", Err: syscall.EIO}, "Wrapper", "Write", "append")
	assert.Equal(t, ErrorTransient, Classify(flaky))
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	config := DefaultRetryConfig()

	assert.False(t, config.ShouldRetry(nil, 0))
	assert.True(t, config.ShouldRetry(ErrDeviceTimeout, 0))
	assert.False(t, config.ShouldRetry(ErrDeviceTimeout, config.MaxRetries))
	assert.False(t, config.ShouldRetry(ErrStorageFull, 0))

	config.RetryableErrors = []error{syscall.EAGAIN}
	assert.True(t, config.ShouldRetry(&os.PathError{Op: "write", Path: "x", Err: syscall.EAGAIN}, 1))
	assert.False(t, config.ShouldRetry(ErrDeviceTimeout, 1))
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	errorsConfig := RetryConfig{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.5,
	}

	retryConfig := errorsConfig.ToRetryConfig()

	assert.Equal(t, 6, retryConfig.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, retryConfig.InitialDelay)
	assert.Equal(t, 10*time.Second, retryConfig.MaxDelay)
	assert.Equal(t, 1.5, retryConfig.Multiplier)
	assert.True(t, retryConfig.AddJitter)
	require.NotNil(t, retryConfig.Retryable)
	assert.True(t, retryConfig.Retryable(ErrDeviceTimeout, 1))
	assert.False(t, retryConfig.Retryable(ErrStorageFull, 1))
}
