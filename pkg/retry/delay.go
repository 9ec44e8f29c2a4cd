package retry

import (
	"context"
	"math/rand"
	"time"
)

// Delay blocks for d or until ctx is done
func Delay(ctx context.Context, d time.Duration) error {
	return Wait(ctx, d)
}

// RandomizeDelay returns a duration sampled uniformly from
// [base*(1-variance), base*(1+variance)]. Variance is clamped to [0, 1].
func RandomizeDelay(base time.Duration, variance float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if variance < 0 {
		variance = 0
	}
	if variance > 1 {
		variance = 1
	}
	low := float64(base) * (1 - variance)
	high := float64(base) * (1 + variance)
	return time.Duration(low + rand.Float64()*(high-low))
}

// RandomBetween returns a duration sampled uniformly from [min, max]
func RandomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
