package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel maps LOG_LEVEL to a slog.Level. It accepts "debug", "info",
// "warn"/"warning" and "error" in any case and returns fallback otherwise.
func ParseLogLevel(fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(Get("LOG_LEVEL", ""))) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
