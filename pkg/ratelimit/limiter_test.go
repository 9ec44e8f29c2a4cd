package ratelimit

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucket(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := NewTokenBucket(5, 60, time.Minute)
	tb.now = clock.now
	tb.last = clock.t

	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Errorf("Expected token %d to be available", i+1)
		}
	}
	if tb.Allow() {
		t.Error("Expected no more tokens to be available")
	}

	// one token per second at 60/min
	clock.advance(time.Second)
	if !tb.Allow() {
		t.Error("Expected one token after one second")
	}
	if tb.Allow() {
		t.Error("Expected a single refilled token")
	}

	// refill never exceeds capacity
	clock.advance(time.Hour)
	for i := 0; i < 5; i++ {
		tb.Allow()
	}
	if tb.Allow() {
		t.Error("Expected capacity to cap refill")
	}

	tb.Reset()
	if !tb.Allow() {
		t.Error("Expected tokens after reset")
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 100, 100*time.Millisecond) // one token per ms
	if !tb.Allow() {
		t.Fatal("Expected first token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tb.Wait(ctx); err != nil {
		t.Errorf("Expected wait to succeed, got %v", err)
	}
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, 1, time.Hour)
	tb.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Error("Expected cancelled wait to fail")
	}
}

func TestSlidingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	sw := NewSlidingWindow(3, time.Minute)
	sw.now = clock.now

	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		clock.advance(10 * time.Second)
	}
	if sw.Allow() {
		t.Error("Expected 4th request inside window to be rejected")
	}

	// first request leaves the window at t=60s
	clock.advance(31 * time.Second)
	if !sw.Allow() {
		t.Error("Expected request after oldest expired")
	}

	sw.Reset()
	if !sw.Allow() {
		t.Error("Expected request after reset")
	}
}

func TestDetectRateLimit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		phrases []string
		want    bool
	}{
		{name: "empty", text: "", want: false},
		{name: "normal feed", text: "Alice shared a post about Go generics", want: false},
		{name: "too many requests", text: "Error 429: Too Many Requests", want: true},
		{name: "mixed case", text: "Please WAIT a moment", want: true},
		{name: "try again", text: "Something went wrong. Try again later.", want: true},
		{name: "unavailable", text: "This feature is temporarily unavailable", want: true},
		{name: "custom phrase", text: "Slow down!", phrases: []string{"slow down"}, want: true},
		{name: "custom replaces defaults", text: "rate limit hit", phrases: []string{"slow down"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectRateLimit(tt.text, tt.phrases...); got != tt.want {
				t.Errorf("DetectRateLimit(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
