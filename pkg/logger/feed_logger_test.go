package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

type stringer string

func (s stringer) String() string { return string(s) }

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown %d", 1)
	log.Error("shown %d", 2)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "shown 1" || entries[0].Level != "WARN" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
	if entries[1].File == "" {
		t.Errorf("error entries carry the caller")
	}
}

func TestLogger_SpecialFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, Output: &buf, Service: "test"})

	log.WithField("component", "hub").
		WithIdentity(stringer("anonymous:-1")).
		WithConnection(7).
		WithError(errors.New("boom")).
		Info("closed")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Service != "test" || e.Identity != "anonymous:-1" || e.ConnectionID != 7 || e.Error != "boom" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Fields["component"] != "hub" {
		t.Errorf("expected component field, got %v", e.Fields)
	}
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Level: LevelInfo, Output: &buf})
	_ = parent.WithField("child", true)

	parent.Info("plain")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Fields != nil {
		t.Errorf("parent logger gained fields: %+v", entries)
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-9")
	log.WithContext(ctx).Info("hello")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].RequestID != "req-9" {
		t.Errorf("expected request id, got %+v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"unknown": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
