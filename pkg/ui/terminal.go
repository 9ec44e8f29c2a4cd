package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const banner = `
  ┌─┐┌─┐┌─┐┌┬┐┬ ┬┌─┐┬─┐┬  ┬┌─┐┌─┐┌┬┐
  ├┤ ├┤ ├┤  ││├─┤├─┤├┬┘└┐┌┘├┤ └─┐ │
  └  └─┘└─┘─┴┘┴ ┴┴ ┴┴└─ └┘ └─┘└─┘ ┴ `

var (
	cyan    = lipgloss.Color("#00FFFF")
	magenta = lipgloss.Color("#FF00FF")
	green   = lipgloss.Color("#39FF14")
	yellow  = lipgloss.Color("#FFFF00")
	red     = lipgloss.Color("#FF3131")
	dim     = lipgloss.Color("#B0B0B0")

	bannerStyle    = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	valueStyle     = lipgloss.NewStyle().Foreground(yellow)
	successStyle   = lipgloss.NewStyle().Foreground(green).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(red).Bold(true)
	warningStyle   = lipgloss.NewStyle().Foreground(yellow)
	highlightStyle = lipgloss.NewStyle().Foreground(magenta).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(dim)
	headerStyle    = lipgloss.NewStyle().Foreground(magenta).Bold(true).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
)

var (
	mu    sync.Mutex
	out   io.Writer = os.Stdout
	quiet bool
)

// SetOutput redirects everything the package prints
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

func writer(always bool) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	if quiet && !always {
		return io.Discard
	}
	return out
}

func PrintBanner(version string) {
	w := writer(false)
	fmt.Fprintln(w, bannerStyle.Render(banner))
	fmt.Fprintln(w, dimStyle.Render("  feed harvester "+version))
	fmt.Fprintln(w)
}

// PrintError prints msg, followed by detail when given
func PrintError(msg string, detail ...interface{}) {
	fmt.Fprintln(writer(true), errorStyle.Render(withDetail(msg, detail)))
}

func PrintSuccess(msg string) {
	fmt.Fprintln(writer(false), successStyle.Render(msg))
}

// PrintInfo prints a label: value pair
func PrintInfo(label, value string) {
	fmt.Fprintf(writer(false), "%s: %s\n", labelStyle.Render(label), valueStyle.Render(value))
}

func PrintWarning(msg string, detail ...interface{}) {
	fmt.Fprintln(writer(false), warningStyle.Render(withDetail(msg, detail)))
}

func PrintHighlight(msg string) {
	fmt.Fprintln(writer(false), highlightStyle.Render(msg))
}

func withDetail(msg string, detail []interface{}) string {
	if len(detail) == 0 || detail[0] == nil || detail[0] == "" {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, detail[0])
}
