// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the process-wide slog logger for the canvas
// service.
//
// The canvas binary logs to stderr by default, following CLI
// conventions; setting Config.LogDir adds a daily JSON log file so a
// long-running server keeps a machine-parseable record alongside the
// terminal stream. Every record carries a "service" attribute for
// filtering in aggregated systems.
//
// Usage:
//
//	logger := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    LogDir:  "~/.aleutian/logs",
//	    Service: "canvas",
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// This package does NOT redact sensitive data. Callers must keep API
// keys and user canvas content out of log attributes:
//
//	// BAD: logs the key
//	slog.Info("auth", "api_key", key)
//
//	// GOOD: log presence only
//	slog.Info("auth", "api_key_present", key != "")
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config controls the logger's destinations. The zero value writes
// Info+ text records to stderr only.
type Config struct {
	// Level is the minimum level; records below it are discarded.
	Level slog.Level

	// LogDir enables file logging. The directory is created if
	// missing (0750), and records append to
	// "{Service}_{YYYY-MM-DD}.log" in JSON. Supports a leading ~ for
	// the home directory. Empty disables file logging.
	LogDir string

	// Service is stamped on every record as the "service" attribute.
	Service string

	// JSON switches the stderr stream to JSON. File output is always
	// JSON regardless.
	JSON bool
}

// Logger owns the log destinations. Close releases the file handle;
// the *slog.Logger from Slog stays valid but file records stop.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from the config.
//
// File setup failures degrade to stderr-only logging rather than
// failing startup: a server that cannot open its log file is still
// more useful running than not.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level}

	var stderrHandler slog.Handler
	if config.JSON {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := &Logger{}
	handler := stderrHandler

	if config.LogDir != "" {
		if file, err := openLogFile(config.LogDir, config.Service); err == nil {
			logger.file = file
			handler = &teeHandler{handlers: []slog.Handler{
				stderrHandler,
				slog.NewJSONHandler(file, opts),
			}}
		} else {
			fmt.Fprintf(os.Stderr, "logging: file disabled: %v\n", err)
		}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Slog returns the underlying slog.Logger, typically installed as the
// process default.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "aleutian"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// teeHandler fans one record out to the stderr and file handlers,
// which carry different formats.
type teeHandler struct {
	handlers []slog.Handler
}

var _ slog.Handler = (*teeHandler)(nil)

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: handlers}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: handlers}
}
