package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"feedharvest/pkg/models"
)

const textWidth = 60

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(magenta)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// PrintPosts prints stored posts as a table
func PrintPosts(posts []models.StoredPost) {
	if len(posts) == 0 {
		PrintWarning("No posts stored")
		return
	}
	t := newTable("Posted", "Likes", "Comments", "Media", "Text", "URL")
	for _, p := range posts {
		t.Row(
			formatTime(p.PostedAt),
			strconv.Itoa(p.Likes),
			strconv.Itoa(p.Comments),
			string(p.MediaType),
			Truncate(p.Text, textWidth),
			p.PostURL,
		)
	}
	fmt.Fprintln(writer(false), t.Render())
}

// PrintHistory prints scrape history entries as a table
func PrintHistory(entries []models.HistoryEntry) {
	if len(entries) == 0 {
		PrintWarning("No scrapes recorded")
		return
	}
	t := newTable("ID", "Type", "Status", "Started", "Finished", "Posts", "Error")
	for _, e := range entries {
		finished := ""
		if e.CompletedAt != nil {
			finished = formatTime(*e.CompletedAt)
		}
		t.Row(
			e.ID,
			string(e.ScrapeType),
			string(e.Status),
			formatTime(e.StartedAt),
			finished,
			strconv.Itoa(e.PostsScraped),
			Truncate(e.ErrorMessage, 40),
		)
	}
	fmt.Fprintln(writer(false), t.Render())
}

// PrintEligibility prints whether a scheduled scrape may run now
func PrintEligibility(e models.Eligibility) {
	if e.CanScrapeNow {
		PrintSuccess("Eligible to scrape now")
	} else {
		PrintWarning("Not eligible to scrape now")
	}
	last := "never"
	if e.LastFullScrape != nil {
		last = formatTime(*e.LastFullScrape)
	}
	PrintInfo("Last full scrape", last)
	PrintInfo("Full scrape completed", strconv.FormatBool(e.EverCompletedFull))
}

// PrintSnapshot prints the orchestrator session state
func PrintSnapshot(s models.SessionSnapshot) {
	if !s.IsRunning {
		PrintInfo("Status", "idle")
		return
	}
	PrintInfo("Status", "running")
	PrintInfo("History ID", s.HistoryID)
	PrintInfo("Type", string(s.ScrapeType))
	PrintInfo("Posts so far", strconv.Itoa(s.PostsScraped))
	if s.StartTime != nil {
		PrintInfo("Started", formatTime(*s.StartTime))
	}
	if s.LastUpdate != nil {
		PrintInfo("Last update", formatTime(*s.LastUpdate))
	}
}

// Truncate shortens s to at most n runes on a single line
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
