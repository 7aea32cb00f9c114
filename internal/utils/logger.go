package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions controls the slog handler built by NewLogger.
type LogOptions struct {
	Level      string
	JSON       bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger returns a slog.Logger configured for the desired verbosity, format and sink.
// When File is set, output goes to a size-rotated file instead of stdout.
func NewLogger(opts LogOptions) *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(opts.Level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	}

	return slog.New(handler)
}

// DiscardLogger returns a logger that drops everything. Handy in tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
