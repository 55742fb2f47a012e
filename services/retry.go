package services

import (
	"context"
	"time"
)

// RetryConfig parameterizes the shared retry helper used by frame grabs,
// camera moves and module initialization.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64 // multiplier applied to the delay after each attempt; <1 means none
}

// Retry runs op until it returns nil, attempts are exhausted, or the context
// is cancelled. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.Delay

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !sleepCtx(ctx, delay) {
			return err
		}
		if cfg.Backoff > 1 {
			delay = time.Duration(float64(delay) * cfg.Backoff)
		}
	}
	return err
}

// WaitInterval sleeps for total, waking every step to ask stop whether the
// wait should be abandoned. Returns true if the full duration elapsed.
func WaitInterval(ctx context.Context, total, step time.Duration, stop func() bool) bool {
	deadline := time.Now().Add(total)
	for {
		if stop != nil && stop() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining < step {
			step = remaining
		}
		if !sleepCtx(ctx, step) {
			return false
		}
	}
}

// sleepCtx sleeps for d unless the context is cancelled first; reports
// whether the full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
