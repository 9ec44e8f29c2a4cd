package models

import "time"

// ScrapeVersion is stamped on every stored post
const ScrapeVersion = 2

// MediaType classifies the first media attachment of a post
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaArticle  MediaType = "article"
)

// Post is one harvested feed item. PostURL is the natural key.
type Post struct {
	Text        string    `json:"text"`
	PostURL     string    `json:"post_url"`
	PostedAt    time.Time `json:"posted_at"`
	Likes       int       `json:"likes"`
	Comments    int       `json:"comments"`
	Impressions int       `json:"impressions"`
	MediaURL    string    `json:"media_url,omitempty"`
	MediaURLs   []string  `json:"media_urls,omitempty"`
	MediaType   MediaType `json:"media_type,omitempty"`
	// Synthetic is set when no stable id was found and PostURL was generated
	Synthetic bool `json:"synthetic,omitempty"`
}

// StoredPost is a Post as persisted for an identity
type StoredPost struct {
	Post
	UserID        string    `json:"user_id"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
	IsFullScrape  bool      `json:"is_full_scrape"`
	ScrapeVersion int       `json:"scrape_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScrapeType selects scroll depth and date filtering
type ScrapeType string

const (
	ScrapeFull    ScrapeType = "full"
	ScrapePartial ScrapeType = "partial"
	ScrapeManual  ScrapeType = "manual"
)

// Valid reports whether t is one of the known scrape types
func (t ScrapeType) Valid() bool {
	switch t {
	case ScrapeFull, ScrapePartial, ScrapeManual:
		return true
	}
	return false
}

// ParseScrapeType converts a string to a ScrapeType
func ParseScrapeType(s string) (ScrapeType, bool) {
	t := ScrapeType(s)
	return t, t.Valid()
}

// HistoryStatus is the lifecycle state of a history entry
type HistoryStatus string

const (
	StatusRunning   HistoryStatus = "running"
	StatusCompleted HistoryStatus = "completed"
	StatusFailed    HistoryStatus = "failed"
	StatusCancelled HistoryStatus = "cancelled"
)

// Terminal reports whether s ends a history entry
func (s HistoryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// HistoryEntry is one row of the append-only scrape ledger
type HistoryEntry struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	ScrapeType   ScrapeType    `json:"scrape_type"`
	Status       HistoryStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	PostsScraped int           `json:"posts_scraped"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// HistoryUpdate is the terminal transition applied to a history entry
type HistoryUpdate struct {
	Status       HistoryStatus
	CompletedAt  time.Time
	PostsScraped int
	ErrorMessage string
}

// Eligibility is derived from history, never stored
type Eligibility struct {
	EverCompletedFull bool       `json:"ever_completed_full"`
	CanScrapeNow      bool       `json:"can_scrape_now"`
	LastFullScrape    *time.Time `json:"last_full_scrape,omitempty"`
}

// SessionSnapshot is a read-only copy of the orchestrator's session
type SessionSnapshot struct {
	IsRunning     bool       `json:"is_running"`
	ScrapeType    ScrapeType `json:"scrape_type,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	PostsScraped  int        `json:"posts_scraped"`
	LastUpdate    *time.Time `json:"last_update,omitempty"`
	HistoryID     string     `json:"history_id,omitempty"`
	ContextActive bool       `json:"context_active"`
}
