package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pscheid92/livealert/internal/platform/correlation"
	"github.com/pscheid92/livealert/internal/platform/version"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewHandler builds a correlation-aware handler writing to w.
// format: "json" or "text" (defaults to "text")
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return correlation.NewHandler(handler)
}

// InitLogger initializes the global logger with the specified level and format.
func InitLogger(level, format string) {
	Logger = slog.New(NewHandler(os.Stdout, level, format)).With("service", version.ServiceName)
	slog.SetDefault(Logger)
}
