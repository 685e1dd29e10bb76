package logging

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger
func Init(level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "info", "INFO":
		return slog.LevelInfo
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// It strips userinfo and masks query parameter values.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// Helper functions for common logging patterns

// LogModelLoadStart logs the start of a cache read or download
func LogModelLoadStart(model, source string) {
	if Logger == nil {
		return
	}
	Logger.Info("model load started",
		"event", "model_load_start",
		"model", model,
		"source", source)
}

// LogModelStateChange logs loader state transitions
func LogModelStateChange(model, state string) {
	if Logger == nil {
		return
	}
	Logger.Info("loader state changed",
		"event", "loader_state_change",
		"model", model,
		"state", state)
}

// LogModelLoadComplete logs a successful load from either source
func LogModelLoadComplete(model, source string, duration time.Duration) {
	if Logger == nil {
		return
	}
	Logger.Info("model load complete",
		"event", "model_load_complete",
		"model", model,
		"source", source,
		"duration_ms", duration.Milliseconds())
}

// LogModelLoadError logs load failures (recoverable or terminal)
func LogModelLoadError(model, source string, err error) {
	if Logger == nil {
		return
	}
	Logger.Warn("model load failed",
		"event", "model_load_error",
		"model", model,
		"source", source,
		"error", err)
}

// LogCacheWriteError logs best-effort cache persistence failures
func LogCacheWriteError(model string, err error) {
	if Logger == nil {
		return
	}
	Logger.Warn("cache write failed",
		"event", "cache_write_error",
		"model", model,
		"error", err)
}

// LogDBOperation logs database operations
func LogDBOperation(operation string, id int64, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("database operation failed",
			"event", "db_operation_error",
			"operation", operation,
			"id", id,
			"error", err)
	} else {
		Logger.Debug("database operation",
			"event", "db_operation",
			"operation", operation,
			"id", id)
	}
}

// LogHTTPRequest logs HTTP request handling
func LogHTTPRequest(method, path, remoteAddr string, duration time.Duration, status int) {
	if Logger == nil {
		return
	}
	Logger.Info("http request",
		"event", "http_request",
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"duration_ms", duration.Milliseconds(),
		"status", status)
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	Logger.Info("server started", attrs...)
}

// LogPanic logs a recovered panic from a request handler
func LogPanic(v any) {
	if Logger == nil {
		return
	}
	Logger.Error("panic recovered",
		"event", "panic",
		"value", v)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error(msg,
			"event", "server_shutdown_error",
			"error", err)
	} else {
		Logger.Info(msg,
			"event", "server_shutdown")
	}
}

// With returns a logger with additional context
func With(ctx context.Context, attrs ...any) *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger.With(attrs...)
}
