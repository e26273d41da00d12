// Package logging sets up the process-wide slog logger: console output,
// rotated log files and a separate warn-and-above error file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codetrek/doclife/internal/config"
)

var (
	openFiles   []*lumberjack.Logger
	openFilesMu sync.Mutex
)

// Initialize builds the logger from configuration and installs it as the
// slog default.
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"console", cfg.Console.Enabled,
		"file", cfg.File.Enabled,
	)
	return nil
}

// NewLogger creates a logger instance from the given configuration.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, newHandler(os.Stdout, cfg.Console.Format, parseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		mainFile := rotatedFile(cfg, "doclife.log")
		handlers = append(handlers, newHandler(mainFile, cfg.File.Format, parseLevel(cfg.File.Level)))

		errorFile := rotatedFile(cfg, "errors.log")
		handlers = append(handlers, NewMinLevel(newHandler(errorFile, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	switch len(handlers) {
	case 0:
		return slog.New(newHandler(os.Stdout, cfg.Format, parseLevel(cfg.Level))), nil
	case 1:
		return slog.New(handlers[0]), nil
	default:
		return slog.New(NewFanout(handlers...)), nil
	}
}

// Shutdown closes all rotated log files.
func Shutdown() error {
	openFilesMu.Lock()
	defer openFilesMu.Unlock()

	for _, f := range openFiles {
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	openFiles = nil
	return nil
}

func rotatedFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	openFilesMu.Lock()
	openFiles = append(openFiles, f)
	openFilesMu.Unlock()
	return f
}

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

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
