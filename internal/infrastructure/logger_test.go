package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microfit/internal/config"
)

// TestRunIDContext tests run ID propagation through context
func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRunID(ctx))

	ctx = WithRunID(ctx, "abc-123")
	assert.Equal(t, "abc-123", GetRunID(ctx))

	// EnsureRunID keeps an existing ID and fills a missing one
	assert.Equal(t, "abc-123", GetRunID(EnsureRunID(ctx)))
	generated := GetRunID(EnsureRunID(context.Background()))
	assert.NotEmpty(t, generated)
	assert.Len(t, generated, 36, "run IDs are UUIDs")
}

// TestRunHandlerInjectsRunID tests that log records pick up run_id from
// context
func TestRunHandlerInjectsRunID(t *testing.T) {
	var buf bytes.Buffer
	handler := &runHandler{Handler: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(handler)

	ctx := WithRunID(context.Background(), "run-42")
	logger.InfoContext(ctx, "stage complete", "stage", "imputation")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "run-42", record["run_id"])
	assert.Equal(t, "stage complete", record["msg"])
}

// TestInitializeLoggerWritesFile tests dual output to a log file
func TestInitializeLoggerWritesFile(t *testing.T) {
	ResetLoggerForTesting()
	t.Cleanup(ResetLoggerForTesting)

	logPath := filepath.Join(t.TempDir(), "logs", "enhance.log")
	logger, err := InitializeLogger(config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logPath,
	})
	require.NoError(t, err)

	logger.Info("run started", "records", 100)
	require.NoError(t, CloseLogFile())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"run started"`))
}

// TestParseLogLevel tests level string parsing with fallback
func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}
