package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paymesh/paymesh-indexer/pkg/config"
)

var retryableMessages = []string{
	"timeout",
	"deadline exceeded",
	"429",
	"too many requests",
	"rate limit",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"connection pool",
	"no available connection",
}

// retryableError checks if an error is transient and the call should be retried.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, msg := range retryableMessages {
		if strings.Contains(errStr, msg) {
			return true
		}
	}

	return false
}

// newBackOff builds the exponential policy described by cfg. The attempt budget is
// enforced by WithMaxRetries, so elapsed time is unbounded.
func newBackOff(cfg *config.RetryConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff.Duration
	b.MaxInterval = cfg.MaxBackoff.Duration
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()

	retries := 0
	if cfg.MaxAttempts > 1 {
		retries = cfg.MaxAttempts - 1
	}

	return backoff.WithMaxRetries(b, uint64(retries))
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable error,
// exhausts cfg.MaxAttempts or ctx is done. A nil cfg runs fn once.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before %s: %w", operation, err)
	}

	var (
		attempt   int
		permanent bool
		startTime = time.Now()
	)

	op := func() error {
		attempt++
		err := fn()
		if err != nil && !retryableError(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(error, time.Duration) { RPCRetryInc(operation) }

	err := backoff.RetryNotify(op, backoff.WithContext(newBackOff(cfg), ctx), notify)
	switch {
	case err == nil:
		return nil
	case permanent:
		return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
	case ctx.Err() != nil:
		return fmt.Errorf("context cancelled after attempt %d/%d: %w", attempt, cfg.MaxAttempts, ctx.Err())
	default:
		return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
			attempt, time.Since(startTime), err)
	}
}
