// Package observability builds the process-wide slog logger: level and
// format selection, credential redaction, and the attribute helpers used
// when handing loggers to subsystems.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/lmittmann/tint"
	"github.com/m-mizutani/masq"
)

// NewLogger builds a logger writing to stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter builds a logger for the configured format: "json",
// "text", or "console" (tint, colored unless NO_COLOR is set). Unknown
// formats fall back to JSON. All formats share the same level, source, and
// redaction settings.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	redact := newRedactor()
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if sensitiveKey(a.Key) {
			return slog.String(a.Key, redactedMarker)
		}
		a = redact(groups, a)
		if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
			}
		}
		return a
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "console":
		handler = tint.NewHandler(w, &tint.Options{
			Level:       level,
			AddSource:   cfg.AddSource,
			TimeFormat:  consoleTimeFormat(cfg.TimeFormat),
			ReplaceAttr: replaceAttr,
			NoColor:     os.Getenv("NO_COLOR") != "",
		})
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// redactedMarker replaces credential values in log output.
const redactedMarker = "[REDACTED]"

// sensitiveKeyPattern matches attr keys that carry credential material.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|secret|token|api_?key|credential|authorization)`)

func sensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(key)
}

// bearerPattern and keyPattern match credential material that must never
// reach log output, wherever it appears in an attr value.
var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]+`)
	keyPattern    = regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`)
)

// newRedactor builds the value-level redaction applied after the key check.
// It walks structured attr values, so credentials survive neither config
// struct dumps nor error text that embeds a raw key.
func newRedactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("Authorization"),
		masq.WithFieldPrefix("Secret"),
		masq.WithRegex(bearerPattern),
		masq.WithRegex(keyPattern),
	)
}

// consoleTimeFormat picks the console handler time format. RFC3339 is the
// config default and too wide for a terminal, so it maps to kitchen time.
func consoleTimeFormat(configured string) string {
	if configured != "" && configured != time.RFC3339 {
		return configured
	}
	return time.Kitchen
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs logger as the slog default for code without an
// injected logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// WithApp stamps the application name and version onto every record.
func WithApp(logger *slog.Logger, name, version string) *slog.Logger {
	return logger.With(slog.String("app", name), slog.String("version", version))
}

// WithComponent names the subsystem a logger belongs to.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError attaches an error attribute; a nil error returns the logger
// unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}
