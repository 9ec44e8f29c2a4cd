package ratelimit

import "strings"

// DefaultPhrases are the lowercase phrases that indicate the site is throttling
var DefaultPhrases = []string{
	"too many requests",
	"rate limit",
	"temporarily unavailable",
	"please wait",
	"try again later",
}

// DetectRateLimit reports whether text contains any throttle phrase,
// ignoring case. With no phrases given, DefaultPhrases are used.
func DetectRateLimit(text string, phrases ...string) bool {
	if text == "" {
		return false
	}
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
