package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestConsoleHandler_Line(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelInfo))

	logger.With("guildID", "42").Warn("fetch failed", "query", "never gonna", "err", errors.New("boom"))

	line := buf.String()
	assert.Contains(t, line, "[WARN] fetch failed")
	assert.Contains(t, line, "guildID=42")
	assert.Contains(t, line, `query="never gonna"`)
	assert.Contains(t, line, "err=boom")
	assert.Equal(t, byte('\n'), line[len(line)-1])
}

func TestConsoleHandler_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "[ERROR] shown")
}

func TestConsoleHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelDebug))

	logger.WithGroup("voice").Debug("joined", slog.Group("conn", "channel", "7"))
	assert.Contains(t, buf.String(), "voice.conn.channel=7")
}

func TestSetup_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Setup("debug", FormatJSON, &buf)
	slog.Debug("hello", "guildID", "1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "1", rec["guildID"])
}

func TestSetup_ConsoleIsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("info", "", &buf)
	_, ok := logger.Handler().(*ConsoleHandler)
	assert.True(t, ok)
}
