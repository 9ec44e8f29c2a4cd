package ui

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"feedharvest/pkg/models"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetQuietMode(false)
	})
	return &buf
}

func TestPrintHelpers(t *testing.T) {
	buf := capture(t)

	PrintInfo("History ID", "h-1")
	PrintSuccess("done")
	PrintWarning("careful", "disk almost full")
	PrintError("failed", "boom")

	out := buf.String()
	assert.Contains(t, out, "History ID")
	assert.Contains(t, out, "h-1")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "careful: disk almost full")
	assert.Contains(t, out, "failed: boom")
}

func TestQuietModeKeepsErrors(t *testing.T) {
	buf := capture(t)
	SetQuietMode(true)

	PrintInfo("label", "value")
	PrintSuccess("ok")
	PrintError("bad")

	assert.NotContains(t, buf.String(), "label")
	assert.Contains(t, buf.String(), "bad")
}

func TestPrintPostsAndHistory(t *testing.T) {
	buf := capture(t)

	PrintPosts(nil)
	assert.Contains(t, buf.String(), "No posts stored")

	buf.Reset()
	PrintPosts([]models.StoredPost{{
		Post: models.Post{
			Text:     "hello\n  world",
			PostURL:  "https://www.linkedin.com/feed/update/urn:li:activity:1/",
			Likes:    12,
			PostedAt: time.Now(),
		},
	}})
	out := buf.String()
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "urn:li:activity:1")
	assert.Contains(t, out, "12")

	buf.Reset()
	done := time.Now()
	PrintHistory([]models.HistoryEntry{{
		ID:           "h-1",
		ScrapeType:   models.ScrapeFull,
		Status:       models.StatusFailed,
		StartedAt:    done.Add(-time.Minute),
		CompletedAt:  &done,
		ErrorMessage: "timeout",
	}})
	out = buf.String()
	assert.Contains(t, out, "h-1")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "timeout")
}

func TestPrintSnapshot(t *testing.T) {
	buf := capture(t)

	PrintSnapshot(models.SessionSnapshot{})
	assert.Contains(t, buf.String(), "idle")

	buf.Reset()
	start := time.Now()
	PrintSnapshot(models.SessionSnapshot{IsRunning: true, HistoryID: "h-2", PostsScraped: 5, StartTime: &start})
	assert.Contains(t, buf.String(), "h-2")
	assert.Contains(t, buf.String(), "5")
}

func TestTrackerLine(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return start.Add(90 * time.Second) }

	line := tr.Line(models.SessionSnapshot{IsRunning: true, ScrapeType: models.ScrapePartial, PostsScraped: 42, StartTime: &start})
	assert.Contains(t, line, "[HARVESTING]")
	assert.Contains(t, line, "42 posts")
	assert.Contains(t, line, "1m30s")

	assert.Contains(t, tr.Line(models.SessionSnapshot{}), "idle")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a  b\nc", 10, "a b c"},
		{"abcdefghij", 5, "abcd…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
	}
}
