package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default logger from the logging
// section of the configuration.
//
// format "json" selects a JSONHandler for production scraping; any other
// value selects a TextHandler for local reading. level accepts "debug",
// "info", "warn", or "error" (case-insensitive) and falls back to info.
// Source locations are attached only at debug level.
//
// Installing the logger as the process default means handlers and
// repositories can call slog.Info/Error directly instead of threading a
// *slog.Logger through every constructor.
func SetupLogger(format, level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
