package worker

import (
	"context"
	"time"

	"feedharvest/pkg/models"
)

// Action names a protocol message
type Action string

const (
	ActionStartExtraction Action = "start_extraction"
	ActionProgress        Action = "progress"
	ActionComplete        Action = "complete"
	ActionError           Action = "error"
)

// Command is sent from the orchestrator to an execution context
type Command struct {
	Action     Action            `json:"action"`
	HistoryID  string            `json:"history_id"`
	URL        string            `json:"url"`
	ScrapeType models.ScrapeType `json:"scrape_type"`
	DateLimit  *time.Time        `json:"date_limit,omitempty"`
}

// Reply is sent back for a Command. Every reply carries the HistoryID of the
// command it answers so a stale reply can be told apart from the current run.
type Reply struct {
	Action     Action        `json:"action"`
	HistoryID  string        `json:"history_id"`
	Posts      []models.Post `json:"posts,omitempty"`
	PostsSoFar int           `json:"posts_so_far"`
	Error      string        `json:"error,omitempty"`
}

// Terminal reports whether r ends the exchange for its command
func (r Reply) Terminal() bool {
	return r.Action == ActionComplete || r.Action == ActionError
}

// ExecutionContext is an isolated place to run one extraction. Dispatch
// returns a channel that yields progress replies and then exactly one
// terminal reply before it is closed.
type ExecutionContext interface {
	Dispatch(ctx context.Context, cmd Command) (<-chan Reply, error)
	// Close releases the context. It is safe to call more than once.
	Close() error
}

// Launcher creates execution contexts
type Launcher interface {
	Launch(ctx context.Context) (ExecutionContext, error)
}
