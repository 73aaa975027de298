package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// IsBusyError reports whether err is a SQLITE_BUSY error.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsLockedError reports whether err is a "database is locked" error.
func IsLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsConflictError reports whether err is a SQLite concurrency error worth retrying.
func IsConflictError(err error) bool {
	return IsBusyError(err) || IsLockedError(err)
}

// withRetry runs fn, retrying SQLite conflicts with exponential backoff
// (100ms, 200ms). Other errors are returned immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < retryAttempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsConflictError(err) || i == retryAttempts-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	if IsConflictError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, retryAttempts, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
