// retry.go shields trace writes from transient SQLite errors.
//
// Every engine of every replica appends to the trace concurrently. WAL mode
// absorbs most of that, and the busy_timeout pragma handles SQLITE_BUSY at
// the connection level, but under contention modernc.org/sqlite can still
// surface BUSY, LOCKED or IOERR_SHORT_READ to the caller. Those resolve on
// retry, so inserts run under exponential backoff with jitter.
package trace

import (
	"math/rand"
	"strings"
	"time"
)

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

// retryOnContention wraps a write with the default retry policy.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

// isTransientSQLiteErr reports whether err is worth retrying. Codes are
// matched textually because modernc.org/sqlite embeds them in the message.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",   // SQLITE_BUSY code
		"(6)",   // SQLITE_LOCKED code
		"(522)", // SQLITE_IOERR_SHORT_READ code
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp runs fn, retrying transient errors with exponential backoff plus
// jitter. Non-transient errors return immediately.
func retryOp(cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return lastErr
}

// backoffDelay is baseDelay * 2^attempt capped at maxDelay, plus random
// jitter in [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
