package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevelMapping = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// InitDefault installs a JSON logger whose level comes from LOG_LEVEL.
func InitDefault(actorID string) {
	Init(os.Stderr, "", "json", actorID)
}

// Init installs the default logger. An empty level falls back to LOG_LEVEL,
// then to info. Format is "json" or "text".
func Init(w io.Writer, level, format, actorID string) {
	slog.SetDefault(New(w, level, format).With("actor", actorID))
}

func New(w io.Writer, level, format string) *slog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logLevel, ok := logLevelMapping[strings.ToLower(level)]
	if !ok {
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
