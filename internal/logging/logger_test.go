package logging

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

	"feedwatch/internal/config"
)

func fileConfig(dir string) config.LoggingConfig {
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = dir
	cfg.Console.Enabled = false
	cfg.File.Enabled = true
	cfg.File.Level = "debug"
	return cfg
}

func TestNewLogger_WritesMainAndErrorFiles(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(fileConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown() })

	logger.Info("routine message")
	logger.Error("broken message")

	main, err := os.ReadFile(filepath.Join(dir, "feedwatch.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "routine message")
	assert.Contains(t, string(main), "broken message")

	errors, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errors), "routine message")
	assert.Contains(t, string(errors), "broken message")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	dir := t.TempDir()
	cfg := fileConfig(dir)
	cfg.File.Format = "json"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown() })

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(filepath.Join(dir, "feedwatch.log"))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "value", record["key"])
}

func TestNewLogger_LevelThreshold(t *testing.T) {
	dir := t.TempDir()
	cfg := fileConfig(dir)
	cfg.File.Level = "warn"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown() })

	logger.Debug("too quiet")
	logger.Info("still too quiet")
	logger.Warn("loud enough")

	data, err := os.ReadFile(filepath.Join(dir, "feedwatch.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "too quiet")
	assert.Contains(t, string(data), "loud enough")
}

func TestNewLogger_AllOutputsDisabled(t *testing.T) {
	cfg := config.DefaultLoggingConfig()
	cfg.Console.Enabled = false
	cfg.File.Enabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	// Must not panic or write anywhere.
	logger.Info("into the void")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	filtered := NewLevelFilter(inner, slog.LevelWarn)

	ctx := context.Background()
	assert.False(t, filtered.Enabled(ctx, slog.LevelInfo))
	assert.True(t, filtered.Enabled(ctx, slog.LevelWarn))
	assert.True(t, filtered.Enabled(ctx, slog.LevelError))

	logger := slog.New(filtered)
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestLevelFilter_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewLevelFilter(inner, slog.LevelWarn)).With("component", "feed")

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "component=feed")
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	handler := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(handler)

	logger.Info("everywhere cheap")
	logger.Error("everywhere")

	assert.Equal(t, 2, strings.Count(a.String(), "\n"))
	assert.Equal(t, 1, strings.Count(b.String(), "\n"))
	assert.NotContains(t, b.String(), "everywhere cheap")
}

func TestMultiHandler_Enabled(t *testing.T) {
	handler := NewMultiHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)

	ctx := context.Background()
	assert.True(t, handler.Enabled(ctx, slog.LevelInfo))
	assert.False(t, handler.Enabled(ctx, slog.LevelDebug))
}
