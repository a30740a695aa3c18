package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/mattn/go-sqlite3"
)

// retryConfig controls retries of whole transactions on lock contention.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransient reports whether err is SQLite lock contention that a retry can
// resolve. busy_timeout absorbs most SQLITE_BUSY at the connection level;
// what reaches here is contention that outlived it.
func isTransient(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return true
	case sqlite3.ErrIoErr:
		return se.ExtendedCode == sqlite3.ErrIoErrShortRead
	}
	return false
}

// retryOp runs fn, retrying transient failures with exponential backoff and
// jitter. It stops early when ctx is done.
func retryOp(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxRetries {
			break
		}

		timer := time.NewTimer(backoffDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// backoffDelay is baseDelay * 2^attempt capped at maxDelay, plus jitter in
// [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	if cfg.baseDelay > 0 {
		delay += time.Duration(rand.Int64N(int64(cfg.baseDelay)))
	}
	return delay
}
