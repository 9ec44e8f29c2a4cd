// Package logger provides the structured logging interface used across
// feedharvest.
//
// It wraps zerolog and adds:
//   - console (colored) or JSON output
//   - an optional rotating log file backed by lumberjack
//   - child loggers carrying fields (WithField, WithFields, WithError)
//   - a process-wide logger (Initialize, GetLogger, SetLogger)
//   - NopLogger and TestLogger doubles for tests
//
// Basic usage:
//
//	err := logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("component", "orchestrator")
//	log.InfoWithFields("Scrape started", map[string]interface{}{
//	    "history_id":  id,
//	    "scrape_type": "partial",
//	})
package logger
