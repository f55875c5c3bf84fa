package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithAttempt(ctx, 2)
	ctx = WithTimeframe(ctx, "1h")

	lm.GetComponentLogger("pipeline").InfoContext(ctx, "timeframe merged", "added", 4)

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "pipeline", rec["component"])
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, float64(2), rec["attempt"])
	assert.Equal(t, "1h", rec["timeframe"])
	assert.Equal(t, float64(4), rec["added"])
	assert.NotContains(t, rec, "symbol")

	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "1h", GetTimeframe(ctx))
	assert.Empty(t, GetRunID(context.Background()))
}

func TestLevelsAndFormats(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))

	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{
		Level:         "warn",
		Format:        "text",
		ContextFields: map[string]string{"service": "sync"},
	}, &buf)
	lm.GetLogger().Info("dropped")
	lm.GetLogger().Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "service=sync")
}

func TestComponentLoggerCache(t *testing.T) {
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info"}, &bytes.Buffer{})
	assert.Same(t, lm.GetComponentLogger("hub"), lm.GetComponentLogger("hub"))
	assert.NotSame(t, lm.GetComponentLogger("hub"), lm.GetComponentLogger("fetcher"))
}

func TestFileOutput(t *testing.T) {
	_, err := NewLoggerManager(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "logs", "sync.log")
	lm, err := NewLoggerManager(config.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	lm.GetLogger().Info("written")
	require.NoError(t, lm.Close())
	assert.FileExists(t, path)
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLoggerManagerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	ctx := WithRunID(context.Background(), "run-2")

	require.NoError(t, TimedOperation(ctx, lm.GetLogger(), "publish", func(ctx context.Context) error {
		assert.Equal(t, "publish", ctx.Value(OperationKey))
		return nil
	}))
	boom := errors.New("boom")
	assert.ErrorIs(t, TimedOperation(ctx, lm.GetLogger(), "merge", func(context.Context) error { return boom }), boom)

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "operation completed", recs[0]["msg"])
	assert.Equal(t, "publish", recs[0]["operation"])
	assert.Equal(t, "operation failed", recs[1]["msg"])
	assert.Equal(t, "merge", recs[1]["operation"])
	assert.Equal(t, "boom", recs[1]["error"])
	assert.Equal(t, "run-2", recs[1]["run_id"])
}
