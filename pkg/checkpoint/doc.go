// Package checkpoint keeps a small on-disk marker for the scrape run in
// flight.
//
// The orchestrator writes the marker right after it creates a running
// history entry and clears it on the terminal transition. A marker found at
// startup therefore names a run whose process died mid-flight; the
// orchestrator finalizes that history entry as failed ("interrupted") so the
// store never keeps a running entry that would block eligibility forever.
//
// The marker is written atomically (temp file, fsync, rename).
package checkpoint
