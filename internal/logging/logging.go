package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the process-wide slog logger. format is "json" (default) or
// "text"; level is any slog level name ("debug", "info", "warn", "error").
func Init(service, format, level string) *slog.Logger {
	return initTo(os.Stdout, service, format, level)
}

func initTo(w io.Writer, service, format, level string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))

	var lvl slog.Level
	badLevel := level != "" && lvl.UnmarshalText([]byte(strings.TrimSpace(level))) != nil
	if badLevel {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	if badLevel {
		logger.Warn("unknown log level, defaulting to info", "level", level)
	}
	return logger
}
