package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TraceLevel, ParseLevel("trace"))
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, InfoLevel, ParseLevel(" info "))
	assert.Equal(t, WarningLevel, ParseLevel("warning"))
	assert.Equal(t, WarningLevel, ParseLevel("WARN"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, CriticalLevel, ParseLevel("critical"))
	assert.Equal(t, Severity(0), ParseLevel("loud"))

	assert.Equal(t, "warning", WarningLevel.Name())
	assert.Equal(t, "none", Severity(42).Name())
}

func TestLoggerConsoleLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := New(Options{
		Name:    "test",
		Level:   "warning",
		Console: &buf,
	})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "logger=test")

	l.SetLevel(DebugLevel)
	assert.Equal(t, slog.LevelDebug, l.Level())
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestLoggerInvalidLevelFallsBack(t *testing.T) {
	t.Parallel()

	l, err := New(Options{Level: "shouting", NoConsole: true})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l.Level())
}

func TestLoggerFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "logs", "extender.log")
	l, err := New(Options{
		Level:     "debug",
		Format:    FormatJSON,
		File:      file,
		NoConsole: true,
	})
	require.NoError(t, err)

	l.Info("written to file", "component", "PluginA")
	require.NoError(t, l.Close())
	assert.True(t, l.IsClosed())
	// Closing twice is fine.
	require.NoError(t, l.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written to file"`)
	assert.Contains(t, string(data), `"component":"PluginA"`)
}

func TestLoggerUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New(Options{
		Format:    Format("xml"),
		File:      filepath.Join(t.TempDir(), "x.log"),
		NoConsole: true,
	})
	require.Error(t, err)
}

func TestLoggerBothOutputs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "both.log")
	l, err := New(Options{Console: &buf, File: file})
	require.NoError(t, err)

	l.With("plugin", "x").Error("boom")
	require.NoError(t, l.Close())

	assert.Contains(t, buf.String(), "boom")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=boom")
	assert.Contains(t, string(data), "plugin=x")
}
