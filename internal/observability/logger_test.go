package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logTo builds a logger with the given config writing into a buffer.
func logTo(cfg config.LoggingConfig) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLoggerWithWriter(cfg, &buf), &buf
}

// lastRecord decodes the final JSON log line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
		logger.Info("frame extracted", slog.Int("frame", 42))

		rec := lastRecord(t, buf)
		assert.Equal(t, "frame extracted", rec["msg"])
		assert.Equal(t, float64(42), rec["frame"])
	})

	t.Run("text", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "text"})
		logger.Info("frame extracted")
		assert.Contains(t, buf.String(), "msg=")
		assert.Contains(t, buf.String(), "frame extracted")
	})

	t.Run("console", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "console"})
		logger.Info("frame extracted")
		assert.Contains(t, buf.String(), "frame extracted")
	})

	t.Run("unknown format falls back to json", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "logfmt"})
		logger.Info("hello")
		rec := lastRecord(t, buf)
		assert.Equal(t, "hello", rec["msg"])
	})
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		warnSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"verbose", false, true}, // unknown maps to info
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, buf := logTo(config.LoggingConfig{Level: tt.level, Format: "json"})
			logger.Debug("debug line")
			logger.Warn("warn line")

			out := buf.String()
			assert.Equal(t, tt.debugSeen, strings.Contains(out, "debug line"))
			assert.Equal(t, tt.warnSeen, strings.Contains(out, "warn line"))
		})
	}
}

func TestNewLoggerWithWriter_AddSource(t *testing.T) {
	logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json", AddSource: true})
	logger.Info("with source")

	rec := lastRecord(t, buf)
	src, ok := rec["source"].(map[string]any)
	require.True(t, ok, "expected a source group")
	assert.Contains(t, src["file"], "logger_test.go")
}

func TestNewLoggerWithWriter_CustomTimeFormat(t *testing.T) {
	logger, buf := logTo(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		TimeFormat: "2006-01-02",
	})
	logger.Info("dated")

	rec := lastRecord(t, buf)
	ts, ok := rec["time"].(string)
	require.True(t, ok)
	_, err := time.Parse("2006-01-02", ts)
	assert.NoError(t, err, "time %q should match the configured layout", ts)
}

func TestRedaction(t *testing.T) {
	t.Run("sensitive attr keys", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
		logger.Info("configured",
			slog.String("api_key", "sk-verysecretvalue123"),
			slog.String("password", "hunter2"),
			slog.String("source", "videos/site-a.mp4"),
		)

		out := buf.String()
		assert.NotContains(t, out, "sk-verysecretvalue123")
		assert.NotContains(t, out, "hunter2")
		assert.Contains(t, out, redactedMarker)
		assert.Contains(t, out, "videos/site-a.mp4", "ordinary attrs pass through")
	})

	t.Run("grouped attrs", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
		logger.With(slog.Group("llm", slog.String("token", "tok-abcdef"))).Info("ready")
		assert.NotContains(t, buf.String(), "tok-abcdef")
	})

	t.Run("credentials inside values", func(t *testing.T) {
		logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
		logger.Info("request failed",
			slog.String("detail", "header was Bearer eyJhbGciOi.fragment"),
			slog.String("cause", "key sk-0123456789abcdef rejected"),
		)

		out := buf.String()
		assert.NotContains(t, out, "eyJhbGciOi.fragment")
		assert.NotContains(t, out, "sk-0123456789abcdef")
	})
}

func TestSensitiveKey(t *testing.T) {
	for _, key := range []string{"password", "API_KEY", "apikey", "auth_token", "Authorization", "db_credentials"} {
		assert.True(t, sensitiveKey(key), "key %q", key)
	}
	for _, key := range []string{"source", "run_id", "frame_count", "duration"} {
		assert.False(t, sensitiveKey(key), "key %q", key)
	}
}

func TestConsoleTimeFormat(t *testing.T) {
	assert.Equal(t, time.Kitchen, consoleTimeFormat(""))
	assert.Equal(t, time.Kitchen, consoleTimeFormat(time.RFC3339))
	assert.Equal(t, "15:04:05", consoleTimeFormat("15:04:05"))
}

func TestWithApp(t *testing.T) {
	logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
	WithApp(logger, "digwatch", "1.2.3").Info("booted")

	rec := lastRecord(t, buf)
	assert.Equal(t, "digwatch", rec["app"])
	assert.Equal(t, "1.2.3", rec["version"])
}

func TestWithComponent(t *testing.T) {
	logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
	WithComponent(logger, "watcher").Info("inbox scan")
	assert.Equal(t, "watcher", lastRecord(t, buf)["component"])
}

func TestWithError(t *testing.T) {
	logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})

	WithError(logger, errors.New("ffprobe exited 1")).Warn("probe failed")
	assert.Equal(t, "ffprobe exited 1", lastRecord(t, buf)["error"])

	buf.Reset()
	WithError(logger, nil).Info("no error attr")
	_, present := lastRecord(t, buf)["error"]
	assert.False(t, present)
}

func TestOutputIsLineDelimitedJSON(t *testing.T) {
	logger, buf := logTo(config.LoggingConfig{Level: "info", Format: "json"})
	for i := range 3 {
		logger.Info("line", slog.Int("n", i))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		var rec map[string]any
		assert.NoError(t, json.Unmarshal([]byte(line), &rec))
	}
}
