package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts (0 means unlimited)
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	Context context.Context
	Logger  logger.Logger
	// Sleep replaces Wait, mainly so tests can record delays
	Sleep SleepFunc
}

// ExhaustedError is returned by Do when every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.GetLogger(),
	}
}

// DefaultRetryIf retries typed errors according to their type and any other
// error except context cancellation
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var typed *errs.Error
	if errors.As(err, &typed) {
		return errs.IsRetryable(typed.Type)
	}
	return true
}

// RetryAll retries every error except context cancellation
func RetryAll(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do executes an operation with retry logic. No wait follows the final attempt.
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultExponentialBackoff()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Wait
	}

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		if !retryIf(err) {
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			if cfg.Logger != nil {
				cfg.Logger.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
					"attempts":   attempt,
					"last_error": err.Error(),
				})
			}
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := backoff.NextDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if cfg.Logger != nil {
			cfg.Logger.DebugWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T
	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)
	return result, err
}

// WithBackoff runs op up to maxRetries times, waiting baseDelay*2^i between
// attempt i and i+1. After the last failure the operation's own error is
// returned, not a wrapper.
func WithBackoff(ctx context.Context, op Operation, maxRetries int, baseDelay time.Duration) error {
	return WithBackoffSleep(ctx, op, maxRetries, baseDelay, nil)
}

// WithBackoffResult is WithBackoff for operations returning a value
func WithBackoffResult[T any](ctx context.Context, op OperationWithResult[T], maxRetries int, baseDelay time.Duration) (T, error) {
	var result T
	err := WithBackoff(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, maxRetries, baseDelay)
	return result, err
}

// WithBackoffSleep is WithBackoff with the wait between attempts replaced by
// sleep; a nil sleep uses Wait
func WithBackoffSleep(ctx context.Context, op Operation, maxRetries int, baseDelay time.Duration, sleep SleepFunc) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	err := Do(op, &Config{
		MaxAttempts: maxRetries,
		Backoff:     DoublingBackoff(baseDelay),
		RetryIf:     RetryAll,
		Context:     ctx,
		Sleep:       sleep,
	})

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Err
	}
	return err
}
