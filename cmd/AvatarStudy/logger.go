package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log rotation limits for -log-file.
const (
	logMaxSizeMB  = 50
	logMaxBackups = 5
	logMaxAgeDays = 30
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// initializeLogger sets up structured text logging on stdout.
func initializeLogger(level slog.Leveler) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// configureLogging installs the final logger. With a log file, logs are
// written as JSON to a rotating file; the returned closer flushes it.
func configureLogging(flags Flags) (io.Closer, error) {
	level := slog.LevelInfo
	if *flags.debug {
		level = slog.LevelDebug
	}
	if *flags.logFile == "" {
		initializeLogger(level)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(*flags.logFile), 0755); err != nil {
		return nil, err
	}
	w := newRotatingWriter(*flags.logFile)
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
	slog.Info("Logging to rotated file", "path", *flags.logFile)
	return w, nil
}

func newRotatingWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
}
