package ui

import (
	"fmt"
	"strings"
	"time"

	"feedharvest/pkg/models"
)

const spinnerFrames = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏"

// Tracker renders a one-line live view of a running scrape from successive
// status snapshots
type Tracker struct {
	frame int
	now   func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Line renders snap without a trailing newline
func (t *Tracker) Line(snap models.SessionSnapshot) string {
	frames := []rune(spinnerFrames)
	spin := string(frames[t.frame%len(frames)])
	t.frame++

	if !snap.IsRunning {
		return dimStyle.Render("idle")
	}

	var elapsed time.Duration
	if snap.StartTime != nil {
		elapsed = t.now().Sub(*snap.StartTime).Truncate(time.Second)
	}
	parts := []string{
		highlightStyle.Render(spin + " [HARVESTING]"),
		labelStyle.Render(string(snap.ScrapeType)),
		valueStyle.Render(fmt.Sprintf("%d posts", snap.PostsScraped)),
		dimStyle.Render(elapsed.String()),
	}
	return strings.Join(parts, " | ")
}

// Update redraws the live line in place
func (t *Tracker) Update(snap models.SessionSnapshot) {
	fmt.Fprintf(writer(false), "\r\033[K%s", t.Line(snap))
}

// Done terminates the live line
func (t *Tracker) Done() {
	fmt.Fprintln(writer(false))
}
