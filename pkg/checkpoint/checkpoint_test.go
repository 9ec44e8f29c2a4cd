package checkpoint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(filepath.Join(t.TempDir(), "nested", "run.checkpoint.json"))
	require.NoError(t, err)
	return mgr
}

func markerPresent(t *testing.T, mgr *Manager) bool {
	t.Helper()
	marker, err := mgr.Load()
	require.NoError(t, err)
	return marker != nil
}

func TestNewManagerRejectsEmptyPath(t *testing.T) {
	_, err := NewManager("")
	assert.Error(t, err)
}

func TestBeginAndLoad(t *testing.T) {
	mgr := newTestManager(t)

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "no marker before the first run")
	assert.False(t, markerPresent(t, mgr))

	marker, err := mgr.Begin("h-1", "alice", "partial")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), marker.PID)
	assert.Equal(t, Version, marker.Version)

	loaded, err = mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "h-1", loaded.HistoryID)
	assert.Equal(t, "alice", loaded.UserID)
	assert.Equal(t, "partial", loaded.ScrapeType)
	assert.False(t, loaded.UpdatedAt.IsZero())

	_, err = os.Stat(mgr.path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")
}

func TestClearOnlyMatchingRun(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Begin("h-2", "alice", "full")
	require.NoError(t, err)

	require.NoError(t, mgr.Clear("h-other"))
	assert.True(t, markerPresent(t, mgr), "a stale run must not clear a newer marker")

	require.NoError(t, mgr.Clear("h-2"))
	assert.False(t, markerPresent(t, mgr))

	require.NoError(t, mgr.Clear("h-2"), "clearing twice is fine")
}

func TestClearUnconditional(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Begin("h-3", "bob", "manual")
	require.NoError(t, err)

	require.NoError(t, mgr.Clear(""))
	assert.False(t, markerPresent(t, mgr))
}

func TestLoadCorruptMarker(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, os.WriteFile(mgr.path, []byte("{not json"), 0644))

	_, err := mgr.Load()
	assert.Error(t, err)
}

func TestOwnerAlive(t *testing.T) {
	ctx := context.Background()
	assert.True(t, OwnerAlive(ctx, os.Getpid()))
	assert.False(t, OwnerAlive(ctx, 0))
	assert.False(t, OwnerAlive(ctx, -1))

	// a child that has exited and been reaped
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	assert.False(t, OwnerAlive(ctx, cmd.Process.Pid))
}
