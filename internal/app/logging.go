package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// stderr receives the headless copy of every record.
var stderr io.Writer = os.Stderr

// openLogger returns the process logger. Records always go to logPath;
// in headless mode they are also written to stderr. The TUI owns the
// terminal otherwise, so nothing is written there.
func openLogger(logPath string, headless, debug bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = file
	if headless {
		out = io.MultiWriter(file, stderr)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = file.Close() }, nil
}
