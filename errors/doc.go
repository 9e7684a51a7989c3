// Package errors provides standardized error handling for ORCHID components.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: temporary conditions (device timeouts, interrupted writes) that a bounded retry may fix
//   - Invalid: bad input, bad configuration or API misuse (wrong file index, write after terminate)
//   - Fatal: conditions that must stop the affected component (disk full, capacity misconfiguration)
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and three helpers attach a class:
//
//	errors.WrapTransient(err, "Wrapper", "Write", "append record")
//	errors.WrapInvalid(err, "Queue", "Enqueue", "validate file index")
//	errors.WrapFatal(err, "Config", "Validate", "queue sizing")
//
// WrapIO picks fatal or transient from the underlying operating system
// error, which is what the file writers use.
//
// # Shutdown
//
// Pools and queues report shutdown with ErrClosed. It is not a failure:
// worker loops check it with IsClosed and exit cleanly.
//
//	buf, err := pool.Acquire()
//	if errors.IsClosed(err) {
//	    return nil
//	}
//
// # Retry
//
// RetryConfig describes the bounded retry applied to failed write jobs and
// converts to the pkg/retry configuration:
//
//	cfg := errors.DefaultRetryConfig().ToRetryConfig()
//	err := retry.Do(ctx, cfg, func() error { return wrapper.Write(p) })
package errors
