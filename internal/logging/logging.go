package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the JSON logger. With a file path, output goes to a rotating
// file instead of stdout.
func New(level, file string) *slog.Logger {
	var out io.Writer = os.Stdout
	if file != "" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	}
	return NewWithWriter(level, out)
}

func NewWithWriter(level string, out io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("service", "bonus_service")
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
