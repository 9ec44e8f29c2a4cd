// Package storage persists harvested posts and the scrape history ledger.
//
// Three backends implement Store:
//   - SQLite (modernc.org/sqlite), the default, one file per installation
//   - Postgres (pgx connection pool) for shared deployments
//   - Memory, used by tests and dry runs
//
// Posts are keyed on post_url and written with ON CONFLICT upserts in
// batches, one transaction per batch. History entries are created running
// and move to a terminal status exactly once; a second terminal update
// returns ErrHistoryFinalized.
//
// Eligibility is derived from history on every call. An identity can scrape
// when no entry is running and no full or partial scrape completed within
// Options.MinInterval.
package storage
