package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/kstaniek/go-can-bridge/internal/logging"
)

func parseLevel(level string) slog.Level {
	switch level {
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

// setupLogger installs the global logger. With file set, logs also go to a
// size-rotated file; the returned closer releases it.
func setupLogger(format, level, file string) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closer := func() {}
	if file != "" {
		fw := logging.NewFileWriter(logging.FileOptions{Path: file, MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28})
		w = io.MultiWriter(os.Stderr, fw)
		closer = func() { _ = fw.Close() }
	}
	l := logging.New(format, parseLevel(level), w).With("app", "can-bridge", "boot_id", uuid.NewString())
	logging.Set(l)
	return l, closer
}
