package main

import (
	"time"

	"feedharvest/pkg/ratelimit"
)

func newStartLimiter(perMinute int) ratelimit.Limiter {
	if perMinute <= 0 {
		return ratelimit.Unlimited{}
	}
	return ratelimit.NewSlidingWindow(perMinute, time.Minute)
}
