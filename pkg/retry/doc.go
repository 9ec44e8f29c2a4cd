// Package retry holds the timing helpers used between scrape steps.
//
//   - Do / DoWithResult: configurable retry loop with a BackoffStrategy
//   - WithBackoff: fixed doubling schedule (base, 2*base, 4*base, ...) that
//     returns the operation's last error once attempts run out
//   - Delay / Wait: context-aware fixed pauses
//   - RandomizeDelay / RandomBetween: jitter for humanized pacing
//
// Example:
//
//	err := retry.WithBackoff(ctx, func() error {
//		return tab.Navigate(ctx, feedURL)
//	}, cfg.Limits.MaxRetries, cfg.Limits.RetryBaseDelay)
package retry
