// Package loggr wires the process-wide slog default.
package loggr

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
)

var once sync.Once

// Init safely sets the global logger (only once); later calls are no-ops.
// Console output goes through tint, JSON is for machine consumption.
func Init(level, format string) {
	once.Do(func() {
		lvl := parseLevel(level)
		var handler slog.Handler
		if strings.EqualFold(format, "json") {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
		}
		slog.SetDefault(slog.New(handler))
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
