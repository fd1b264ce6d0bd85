package rpc

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/stretchr/testify/require"
)

// mockNetError implements net.Error for testing
type mockNetError struct {
	msg     string
	timeout bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func fastRetry(attempts int) *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil error", err: nil},
		{name: "network error", err: &mockNetError{msg: "network timeout", timeout: true}, retryable: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "connection reset", err: syscall.ECONNRESET, retryable: true},
		{name: "broken pipe", err: syscall.EPIPE, retryable: true},
		{name: "wrapped connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), retryable: true},
		{name: "deadline", err: errors.New("context deadline exceeded"), retryable: true},
		{name: "rate limited", err: errors.New("429 Too Many Requests"), retryable: true},
		{name: "rate limit text", err: errors.New("rate limit reached"), retryable: true},
		{name: "bad gateway", err: errors.New("502 Bad Gateway"), retryable: true},
		{name: "service unavailable", err: errors.New("Service Unavailable"), retryable: true},
		{name: "gateway timeout", err: errors.New("504 gateway timeout"), retryable: true},
		{name: "pool exhausted", err: errors.New("no available connection"), retryable: true},
		{name: "invalid params", err: errors.New("invalid argument 0: hex string without 0x prefix")},
		{name: "execution reverted", err: errors.New("execution reverted")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, retryableError(tt.err))
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	transient := errors.New("503 service unavailable")
	fatal := errors.New("invalid argument")

	tests := []struct {
		name      string
		cfg       *config.RetryConfig
		failures  int
		failWith  error
		wantCalls int
		wantErr   string
	}{
		{name: "success first try", cfg: fastRetry(3), wantCalls: 1},
		{name: "success after retries", cfg: fastRetry(5), failures: 2, failWith: transient, wantCalls: 3},
		{name: "non-retryable fails fast", cfg: fastRetry(5), failures: 10, failWith: fatal, wantCalls: 1, wantErr: "non-retryable error on attempt 1/5"},
		{name: "attempts exhausted", cfg: fastRetry(3), failures: 10, failWith: transient, wantCalls: 3, wantErr: "all 3 attempts failed"},
		{name: "single attempt", cfg: fastRetry(1), failures: 10, failWith: transient, wantCalls: 1, wantErr: "all 1 attempts failed"},
		{name: "nil config runs once", cfg: nil, failures: 10, failWith: transient, wantCalls: 1, wantErr: "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(t.Context(), tt.cfg, "test", func() error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			require.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
			require.ErrorIs(t, err, tt.failWith)
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	calls := 0
	err := retryWithBackoff(ctx, fastRetry(10), "test", func() error {
		calls++
		cancel()
		return errors.New("503 service unavailable")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ContextDoneBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := retryWithBackoff(ctx, fastRetry(3), "test", func() error {
		t.Fatal("operation must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
