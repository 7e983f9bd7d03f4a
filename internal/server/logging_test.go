package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "info", "json").Info("Category refreshed", "category", "clip")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Category refreshed", entry["msg"])
	assert.Equal(t, "clip", entry["category"])

	buf.Reset()
	logger := NewLoggerTo(&buf, "warn", "console")
	logger.Info("hidden")
	logger.Warn("Category unavailable", "category", "blip")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "Category unavailable")
	assert.Contains(t, buf.String(), "category=blip")
	assert.NotContains(t, buf.String(), "\x1b[", "no colors off a terminal")

	buf.Reset()
	NewLoggerTo(&buf, "info", "text").Info("Model updated", "model", "x")
	assert.Contains(t, buf.String(), `msg="Model updated" model=x`)
}
