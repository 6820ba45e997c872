package trace

import (
	"errors"
	"testing"
	"time"
)

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"non-transient", errors.New("syntax error"), false},
		{"SQLITE_BUSY text", errors.New("SQLITE_BUSY"), true},
		{"SQLITE_LOCKED text", errors.New("SQLITE_LOCKED"), true},
		{"IOERR_SHORT_READ text", errors.New("IOERR_SHORT_READ"), true},
		{"database is locked", errors.New("database is locked"), true},
		{"code 5", errors.New("sqlite: (5) database is busy"), true},
		{"code 522", errors.New("sqlite: (522) short read"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientSQLiteErr(tt.err); got != tt.want {
				t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOpSucceedsImmediately(t *testing.T) {
	calls := 0
	err := retryOp(defaultRetryConfig, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryOpNonTransientErrorNoRetry(t *testing.T) {
	calls := 0
	permanentErr := errors.New("syntax error near SELECT")
	err := retryOp(defaultRetryConfig, func() error {
		calls++
		return permanentErr
	})
	if !errors.Is(err, permanentErr) {
		t.Errorf("expected permanentErr, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for non-transient), got %d", calls)
	}
}

func TestRetryOpRetriesOnTransientError(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 10 * time.Millisecond}
	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected nil after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOpExhaustsRetries(t *testing.T) {
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil {
		t.Error("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (initial + 2 retries), got %d", calls)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := retryConfig{maxRetries: 10, baseDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		if d > cfg.maxDelay+cfg.baseDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap %v plus jitter", attempt, d, cfg.maxDelay)
		}
	}
}
