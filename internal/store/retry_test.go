package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isTransient(fmt.Errorf("commit: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.True(t, isTransient(sqlite3.Error{Code: sqlite3.ErrIoErr, ExtendedCode: sqlite3.ErrIoErrShortRead}))

	assert.False(t, isTransient(nil))
	assert.False(t, isTransient(errors.New("database is locked")))
	assert.False(t, isTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isTransient(sqlite3.Error{Code: sqlite3.ErrIoErr}))
}

var fastRetry = retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}

func TestRetryOp_RetriesTransient(t *testing.T) {
	calls := 0
	err := retryOp(context.Background(), fastRetry, func() error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOp_GivesUp(t *testing.T) {
	calls := 0
	err := retryOp(context.Background(), fastRetry, func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	assert.True(t, isTransient(err))
	assert.Equal(t, fastRetry.maxRetries+1, calls)
}

func TestRetryOp_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	permanent := errors.New("constraint")
	err := retryOp(context.Background(), fastRetry, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryOp_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	slow := retryConfig{maxRetries: 5, baseDelay: time.Hour, maxDelay: time.Hour}
	err := retryOp(ctx, slow, func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay(t *testing.T) {
	cfg := retryConfig{maxRetries: 5, baseDelay: 10 * time.Millisecond, maxDelay: 50 * time.Millisecond}
	for attempt := 0; attempt < 5; attempt++ {
		d := backoffDelay(cfg, attempt)
		floor := min(cfg.baseDelay<<uint(attempt), cfg.maxDelay)
		assert.GreaterOrEqual(t, d, floor)
		assert.Less(t, d, floor+cfg.baseDelay)
	}
}
