package logger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.log")

	l, closer, err := New(config.LoggerConfig{Level: "warn", Format: "json", OutputPath: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept", "user_id", "u1")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "u1", rec["user_id"])
}

func TestNewConsoleToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.log")

	l, closer, err := New(config.LoggerConfig{Level: "info", Format: "console", OutputPath: path})
	require.NoError(t, err)

	l.Error("store failed", "error", errors.New("boom"))
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, "store failed")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "\x1b[", "file output must not be colored")
}

func TestNewBadPath(t *testing.T) {
	_, _, err := New(config.LoggerConfig{OutputPath: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
