package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello", "service", "api")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry["service"] != "api" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "text", "warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
	if !logger.Enabled(context.Background(), 8) {
		t.Error("expected error level to be enabled")
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := newLogger(&bytes.Buffer{}, "text", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestVersionCmd(t *testing.T) {
	root := rootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "statusd dev") {
		t.Errorf("unexpected version output %q", buf.String())
	}
}
