package casc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "casc.log")
	logger, err := NewLogger(LogConfig{Level: "warn", File: path, Quiet: true})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("ekey", "abc"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "abc", entry["ekey"])
}

func TestNewLoggerErrors(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(LogConfig{Level: "loud"})
	require.Error(t, err)

	_, err = NewLogger(LogConfig{Format: "xml"})
	require.Error(t, err)

	logger, err := NewLogger(LogConfig{Quiet: true})
	require.NoError(t, err)
	logger.Error("nowhere")
}
