package app

import (
	"log/slog"
	"os"
	"strings"

	"service-dispatch/internal/logx"
)

// NewLogger builds the JSON slog logger at the given level (info by default).
func NewLogger(level string) logx.Logger {
	base := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	return logx.NewSlogAdapter(base)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
