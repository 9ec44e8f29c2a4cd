package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"feedharvest/pkg/logger"
)

// Version is the current marker format
const Version = 1

// RunMarker records the scrape run that is in flight. It exists on disk only
// between history creation and the terminal transition.
type RunMarker struct {
	HistoryID  string    `json:"history_id"`
	UserID     string    `json:"user_id"`
	ScrapeType string    `json:"scrape_type"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int       `json:"version"`
}

// Manager reads and writes the run marker file
type Manager struct {
	path   string
	logger logger.Logger
}

// NewManager creates a manager for the marker at path, creating its
// directory if needed
func NewManager(path string) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{
		path:   path,
		logger: logger.GetLogger().WithField("component", "checkpoint"),
	}, nil
}

// Begin writes a marker for a run that just started
func (m *Manager) Begin(historyID, userID, scrapeType string) (*RunMarker, error) {
	now := time.Now()
	marker := &RunMarker{
		HistoryID:  historyID,
		UserID:     userID,
		ScrapeType: scrapeType,
		PID:        os.Getpid(),
		StartedAt:  now,
		Version:    Version,
	}
	if err := m.Save(marker); err != nil {
		return nil, fmt.Errorf("failed to save run marker: %w", err)
	}
	return marker, nil
}

// Load returns the current marker, or nil when no run is recorded
func (m *Manager) Load() (*RunMarker, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var marker RunMarker
	if err := json.NewDecoder(file).Decode(&marker); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &marker, nil
}

// Save writes the marker atomically through a temp file and rename
func (m *Manager) Save(marker *RunMarker) error {
	marker.UpdatedAt = time.Now()

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(marker); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Run marker saved", map[string]interface{}{
		"history_id": marker.HistoryID,
		"path":       m.path,
	})
	return nil
}

// Clear removes the marker if it still belongs to historyID. An empty id
// clears unconditionally.
func (m *Manager) Clear(historyID string) error {
	if historyID != "" {
		current, err := m.Load()
		if err != nil {
			return err
		}
		if current == nil || current.HistoryID != historyID {
			return nil
		}
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// OwnerAlive reports whether the process that wrote a marker is still
// running. Unknown pids count as dead.
func OwnerAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && alive
}
