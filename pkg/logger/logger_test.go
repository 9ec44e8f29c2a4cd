package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedharvest/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "console info", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "json debug", cfg: &config.LoggingConfig{Level: "debug", Format: "json"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "chatty"}, wantErr: true},
		{
			name: "rotating file",
			cfg: &config.LoggingConfig{
				Level: "info",
				File:  filepath.Join(t.TempDir(), "logs", "feedharvest.log"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
			assert.NotNil(t, l.GetZerolog())
		})
	}
}

func TestNewCreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	file := filepath.Join(dir, "run.log")

	l, err := New(&config.LoggingConfig{Level: "info", File: file, Format: "json"})
	require.NoError(t, err)
	l.Info("hello")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := parseLogLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestWithFieldsRendersJSON(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.WithField("component", "harvester").
		WithError(errors.New("boom")).
		InfoWithFields("pass done", map[string]interface{}{"pass": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "pass done", entry["message"])
	assert.Equal(t, "harvester", entry["component"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, float64(3), entry["pass"])
	assert.Equal(t, "info", entry["level"])
}

func TestChildLoggerDoesNotLeakFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	parent, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	_ = parent.WithField("child_only", true)
	parent.Info("parent line")

	assert.False(t, strings.Contains(buf.String(), "child_only"))
}

func TestTestLoggerCapture(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("history_id", "h1").WithError(errors.New("nope"))
	child.WarnWithFields("rate limited", map[string]interface{}{"pass": 2})
	tl.Info("plain")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "WARN", msgs[0].Level)
	assert.Equal(t, "h1", msgs[0].Fields["history_id"])
	assert.Equal(t, 2, msgs[0].Fields["pass"])
	assert.EqualError(t, msgs[0].Error, "nope")
	assert.True(t, tl.HasMessage("plain"))
	assert.False(t, tl.HasError())

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	tl := NewTestLogger()
	SetLogger(tl)
	defer SetLogger(nil)

	WithField("k", "v").Info("through global")
	LogComponentStart("api", map[string]interface{}{"addr": ":8080"})

	assert.True(t, tl.HasMessage("through global"))
	assert.True(t, tl.HasMessage("Component started"))
}

func TestDomainHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogScrapeStart(tl, "h1", "partial", "v1")
	LogPass(tl, 1, 10, 8, 8, 8)
	LogRateLimit(tl, 2, 0)

	assert.True(t, tl.HasMessage("Scrape started"))
	assert.Len(t, tl.GetMessagesByLevel("DEBUG"), 1)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("a", 1).WithError(errors.New("x")).Error("ignored")
	assert.Nil(t, l.GetZerolog())
}
