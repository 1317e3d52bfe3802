// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// New Tests
// =============================================================================

func TestNew_StderrOnly(t *testing.T) {
	logger := New(Config{Level: slog.LevelInfo, Service: "canvas"})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Fatal("Slog() returned nil")
	}
	if logger.file != nil {
		t.Error("no LogDir configured but a file was opened")
	}
}

func TestNew_WithLogDir_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   slog.LevelInfo,
		LogDir:  dir,
		Service: "canvas",
	})

	logger.Slog().Info("command accepted", "command_id", "cmd-42")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	wantName := "canvas_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}

	var record map[string]any
	line := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("file record is not JSON: %v", err)
	}
	if record["msg"] != "command accepted" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["command_id"] != "cmd-42" {
		t.Errorf("command_id = %v", record["command_id"])
	}
	if record["service"] != "canvas" {
		t.Errorf("service attribute = %v, want canvas", record["service"])
	}
}

func TestNew_WithLogDir_AppendsAcrossLoggers(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		logger := New(Config{LogDir: dir, Service: "canvas"})
		logger.Slog().Info("run", "n", i)
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	wantName := "canvas_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 appended records, got %d", len(lines))
	}
}

func TestNew_UnusableLogDir_DegradesToStderr(t *testing.T) {
	// A regular file where the directory should go makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Service: "canvas"})
	defer logger.Close()

	if logger.file != nil {
		t.Error("expected file logging to be disabled")
	}
	if logger.Slog() == nil {
		t.Fatal("logger must still work without a file")
	}
}

func TestNew_DefaultServiceFilename(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir})
	logger.Slog().Info("unnamed")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	wantName := "aleutian_" + time.Now().Format("2006-01-02") + ".log"
	if _, err := os.Stat(filepath.Join(dir, wantName)); err != nil {
		t.Errorf("expected fallback filename %s: %v", wantName, err)
	}
}

func TestClose_NoFile_IsNil(t *testing.T) {
	logger := New(Config{})
	if err := logger.Close(); err != nil {
		t.Errorf("Close without a file returned %v", err)
	}
}

// =============================================================================
// Level Filtering Tests
// =============================================================================

func TestNew_LevelFiltersFileRecords(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   slog.LevelWarn,
		LogDir:  dir,
		Service: "canvas",
	})

	logger.Slog().Info("filtered out")
	logger.Slog().Warn("kept")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	wantName := "canvas_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Contains(content, "filtered out") {
		t.Error("Info record written despite Warn level")
	}
	if !strings.Contains(content, "kept") {
		t.Error("Warn record missing")
	}
}

// =============================================================================
// teeHandler Tests
// =============================================================================

func TestTeeHandler_FansOutToAllHandlers(t *testing.T) {
	var a, b bytes.Buffer
	handler := &teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}

	logger := slog.New(handler)
	logger.Info("fan out", "key", "value")

	if !strings.Contains(a.String(), "fan out") {
		t.Error("text handler missed the record")
	}
	if !strings.Contains(b.String(), `"fan out"`) {
		t.Error("json handler missed the record")
	}
}

func TestTeeHandler_RespectsPerHandlerLevels(t *testing.T) {
	var verbose, quiet bytes.Buffer
	handler := &teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled must be true when any handler accepts the level")
	}

	slog.New(handler).Debug("whisper")
	if !strings.Contains(verbose.String(), "whisper") {
		t.Error("debug handler missed the record")
	}
	if quiet.Len() != 0 {
		t.Error("error-level handler received a debug record")
	}
}

func TestTeeHandler_WithAttrsPropagates(t *testing.T) {
	var a, b bytes.Buffer
	handler := slog.Handler(&teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}})
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", "canvas")})

	slog.New(handler).Info("attributed")

	for name, buf := range map[string]*bytes.Buffer{"first": &a, "second": &b} {
		if !strings.Contains(buf.String(), "service=canvas") {
			t.Errorf("%s handler missing the service attribute", name)
		}
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in this environment")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde", "~/.aleutian/logs", filepath.Join(home, ".aleutian/logs")},
		{"absolute", "/var/log/canvas", "/var/log/canvas"},
		{"relative", "logs/today", "logs/today"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.in); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
