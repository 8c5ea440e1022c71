package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonConfig() config.LoggingConfig {
	return config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestContextAttributesPropagate(t *testing.T) {
	var buf bytes.Buffer
	lm := NewWriterManager(jsonConfig(), &buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStage(ctx, "normalize")
	ctx = WithSource(ctx, "FRED")
	ctx = WithEntity(ctx, "JPY")

	lm.WithComponentContext(ctx, "normalizer").Info("series normalized")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "normalize", lines[0]["stage"])
	assert.Equal(t, "FRED", lines[0]["source"])
	assert.Equal(t, "JPY", lines[0]["entity"])
	assert.Equal(t, "normalizer", lines[0]["component"])
	assert.Equal(t, "INFO", lines[0]["level"])
}

func TestContextGetters(t *testing.T) {
	ctx := WithStage(WithEntity(context.Background(), "Japan"), "stats")
	assert.Equal(t, "Japan", GetEntity(ctx))
	assert.Equal(t, "stats", GetStage(ctx))
	assert.Empty(t, GetSource(ctx))
	assert.Empty(t, GetRunID(context.Background()))
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	cl := NewWriterManager(jsonConfig(), &buf).GetComponentLogger("pipeline")

	require.NoError(t, cl.LogOperation(context.Background(), "merge", func() error { return nil }))
	boom := errors.New("boom")
	assert.ErrorIs(t, cl.LogOperation(context.Background(), "stats", func() error { return boom }), boom)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "operation completed", lines[1]["msg"])
	assert.Equal(t, "operation failed", lines[3]["msg"])
	assert.Equal(t, "ERROR", lines[3]["level"])
}

func TestNewRunLogger(t *testing.T) {
	var buf bytes.Buffer
	lm := NewWriterManager(jsonConfig(), &buf)

	cl, ctx, runID := NewRunLogger(context.Background(), lm, "build")
	_, err := uuid.Parse(runID)
	require.NoError(t, err)
	assert.Equal(t, runID, GetRunID(ctx))
	assert.Equal(t, "build", cl.Component())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := jsonConfig()
	cfg.Level = "warn"
	lm := NewWriterManager(cfg, &buf)

	lm.GetLogger().Info("hidden")
	lm.GetLogger().Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestFileOutputRequiresPath(t *testing.T) {
	_, err := NewLoggerManager(config.LoggingConfig{Output: "file", Format: "json", Level: "info"})
	assert.Error(t, err)

	lm, err := NewLoggerManager(config.LoggingConfig{
		Output: "file", Format: "text", Level: "info",
		FilePath: filepath.Join(t.TempDir(), "logs", "forex.log"), MaxSize: 1,
	})
	require.NoError(t, err)
	lm.GetLogger().Info("hello")
	assert.NoError(t, lm.Close())
}
