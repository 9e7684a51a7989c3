// Package retry provides bounded exponential backoff.
//
// Writers use it to retry a failed write job a small number of times before
// marking the target file errored:
//
//	cfg := errors.DefaultRetryConfig().ToRetryConfig()
//	cfg.OnRetry = func(err error, attempt int, delay time.Duration) {
//	    logger.Warn("write retry", "attempt", attempt, "error", err)
//	}
//	err := retry.Do(ctx, cfg, func() error {
//	    _, err := wrapper.Write(payload)
//	    return err
//	})
//
// Errors wrapped with NonRetryable, or rejected by Config.Retryable, stop the
// loop immediately and are returned unwrapped.
package retry
