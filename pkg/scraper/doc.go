// Package scraper orchestrates scrape runs.
//
// An Orchestrator holds at most one session. Start reserves the session,
// checks eligibility, creates a running history entry and hands the run to a
// goroutine that launches an isolated execution context (see package worker)
// and waits for its terminal reply. The outcome is persisted through a
// storage.Store and the session returns to Idle.
//
// Lifecycle:
//
//	Idle --Start--> Running --complete--> Idle  (history: completed)
//	                        --error-----> Idle  (history: failed)
//	                        --timeout---> Idle  (history: failed, "timeout")
//	                        --Stop------> Idle  (history: cancelled)
//
// Replies are correlated by history id. A result that arrives after Stop
// finds a different (or no) session and is discarded.
//
// Terminal history writes are retried with a doubling backoff. A write that
// still fails keeps its run marker and is retried at the next Start, so
// Recover never mistakes it for a crashed run.
//
// Usage:
//
//	orch := scraper.New(cfg, store, launcher, scraper.WithCheckpoint(cp))
//	if _, err := orch.Recover(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := orch.Start(ctx, scraper.StartRequest{ScrapeType: models.ScrapePartial})
//	...
//	orch.Wait()
package scraper
