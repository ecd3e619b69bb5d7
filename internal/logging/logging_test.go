package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pampax.log")
	logger, cleanup, err := Setup(Config{
		Level:    "info",
		FilePath: path,
	})
	require.NoError(t, err)

	logger.Info("index_complete", slog.Int("files", 3))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
	assert.Equal(t, "index_complete", record["msg"])
	assert.Equal(t, float64(3), record["files"])
}

func TestSetup_LevelFiltersDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pampax.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	logger.Debug("noise")
	logger.Info("also noise")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "kept")
}

func TestRotatingWriter_RotatesAtThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pampax.log")
	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force the threshold low enough to trip on small writes.
	w.maxSize = 64

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	assert.NotEmpty(t, w.RotatedFiles())
}

func TestRotatingWriter_DropsOldestBeyondMaxFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pampax.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	w.maxSize = 16

	for i := 0; i < 10; i++ {
		_, err := w.Write([]byte(strings.Repeat("y", 12) + "\n"))
		require.NoError(t, err)
	}

	files := w.RotatedFiles()
	assert.LessOrEqual(t, len(files), 2)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}
