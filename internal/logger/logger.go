package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init настраивает JSON-логгер по умолчанию и возвращает его
func Init(level string) *slog.Logger {
	return InitTo(os.Stdout, level)
}

func InitTo(w io.Writer, level string) *slog.Logger {
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	}))
	slog.SetDefault(l)
	return l
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
