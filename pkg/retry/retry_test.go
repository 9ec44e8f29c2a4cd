package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "feedharvest/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No failure yet"},
		{1, 100 * time.Millisecond, "First retry"},
		{2, 200 * time.Millisecond, "Second retry"},
		{3, 400 * time.Millisecond, "Third retry"},
		{4, 800 * time.Millisecond, "Fourth retry"},
		{5, 1 * time.Second, "Capped at max"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("Expected %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		delay := backoff.NextDelay(2)
		if delay < 140*time.Millisecond || delay > 260*time.Millisecond {
			t.Fatalf("Delay %v outside jitter bounds", delay)
		}
		delays[delay] = true
	}
	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     DoublingBackoff(time.Millisecond),
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryNoWaitAfterLastAttempt(t *testing.T) {
	var waits []time.Duration
	attempts := 0

	err := Do(func() error {
		attempts++
		return errors.New("persistent error")
	}, &Config{
		MaxAttempts: 3,
		Backoff:     DoublingBackoff(time.Second),
		RetryIf:     RetryAll,
		Sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d (reported %d)", attempts, exhausted.Attempts)
	}
	if len(waits) != 2 {
		t.Errorf("Expected 2 waits between 3 attempts, got %d", len(waits))
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	parseErr := errs.New(errs.ErrorTypeParsing, "bad markup")

	err := Do(func() error {
		attempts++
		return parseErr
	}, &Config{
		MaxAttempts: 5,
		Backoff:     DoublingBackoff(time.Millisecond),
		RetryIf:     DefaultRetryIf,
	})

	if err != parseErr {
		t.Errorf("Expected parsing error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}, &Config{
		MaxAttempts: 5,
		Backoff:     DoublingBackoff(50 * time.Millisecond),
		RetryIf:     RetryAll,
		Context:     ctx,
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts before cancellation, got %d", attempts)
	}
}

func TestWithBackoffGrowth(t *testing.T) {
	var waits []time.Duration
	attempts := 0
	final := errors.New("third failure")

	err := WithBackoffSleep(context.Background(), func() error {
		attempts++
		if attempts == 3 {
			return final
		}
		return errors.New("early failure")
	}, 3, time.Second, func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})

	if err != final {
		t.Errorf("Expected the last error to be returned unwrapped, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("Expected waits %v, got %v", want, waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("Wait %d: expected %v, got %v", i, want[i], waits[i])
		}
	}
}

func TestWithBackoffRealTiming(t *testing.T) {
	start := time.Now()
	attempts := 0
	err := WithBackoff(context.Background(), func() error {
		attempts++
		return errors.New("nope")
	}, 3, 10*time.Millisecond)

	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("Expected error")
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("Expected at least 30ms of backoff, got %v", elapsed)
	}
}

func TestWithBackoffResult(t *testing.T) {
	attempts := 0
	got, err := WithBackoffResult(context.Background(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	}, 3, time.Millisecond)

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}, &Config{
		MaxAttempts: 3,
		Backoff:     DoublingBackoff(time.Millisecond),
		RetryIf:     RetryAll,
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got '%s'", result)
	}
}

func TestRandomizeDelay(t *testing.T) {
	base := time.Second
	for i := 0; i < 200; i++ {
		d := RandomizeDelay(base, 0.3)
		if d < 700*time.Millisecond || d > 1300*time.Millisecond {
			t.Fatalf("Delay %v outside [700ms, 1300ms]", d)
		}
	}

	if d := RandomizeDelay(base, 0); d != base {
		t.Errorf("Expected %v with zero variance, got %v", base, d)
	}
	if d := RandomizeDelay(0, 0.3); d != 0 {
		t.Errorf("Expected 0 for zero base, got %v", d)
	}
	if d := RandomizeDelay(base, 5); d < 0 || d > 2*base {
		t.Errorf("Expected clamped variance, got %v", d)
	}
}

func TestRandomBetween(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := RandomBetween(2*time.Second, 4*time.Second)
		if d < 2*time.Second || d > 4*time.Second {
			t.Fatalf("Delay %v outside [2s, 4s]", d)
		}
	}
	if d := RandomBetween(time.Second, time.Second); d != time.Second {
		t.Errorf("Expected fixed delay, got %v", d)
	}
}

func TestDelayHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Delay(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
