package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"orderbroker/internal/logger"

	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONAtLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := logger.InitTo(&buf, "warn")

	l.Info("hidden")
	l.Warn("queue item failed", "item_id", 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "queue item failed", entry["msg"])
	require.Equal(t, float64(7), entry["item_id"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelInfo, logger.ParseLevel(""))
	require.Equal(t, slog.LevelError, logger.ParseLevel("error"))
}
