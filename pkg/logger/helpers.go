package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogScrapeStart logs the acceptance of a scrape session
func LogScrapeStart(l Logger, historyID, scrapeType, selectorsVersion string) {
	l.InfoWithFields("Scrape started", map[string]interface{}{
		"history_id":        historyID,
		"scrape_type":       scrapeType,
		"selectors_version": selectorsVersion,
	})
}

// LogScrapeComplete logs a terminal scrape outcome
func LogScrapeComplete(l Logger, historyID, status string, harvested, written int, elapsed time.Duration) {
	l.InfoWithFields("Scrape finished", map[string]interface{}{
		"history_id": historyID,
		"status":     status,
		"harvested":  harvested,
		"written":    written,
		"duration":   elapsed,
	})
}

// LogPass logs one scroll-and-harvest pass
func LogPass(l Logger, pass, raw, eligible, added, total int) {
	l.DebugWithFields("Harvest pass", map[string]interface{}{
		"pass":     pass,
		"raw":      raw,
		"eligible": eligible,
		"added":    added,
		"total":    total,
	})
}

// LogRateLimit logs an advisory throttle signal
func LogRateLimit(l Logger, pass int, backoff time.Duration) {
	l.WarnWithFields("Rate limit text detected, backing off", map[string]interface{}{
		"pass":    pass,
		"backoff": backoff,
		"action":  "rate_limited",
	})
}

// LogComponentStart logs when a component starts
func LogComponentStart(component string, fields map[string]interface{}) {
	l := GetLogger().WithField("component", component)
	if len(fields) > 0 {
		l = l.WithFields(fields)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(component string, reason string) {
	GetLogger().WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
