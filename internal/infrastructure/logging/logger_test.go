package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/hivelink/internal/infrastructure/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line %q is not JSON: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, cfg := range []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "text", Output: "stderr"},
	} {
		if New(cfg, "1.0.0", "backend") == nil {
			t.Errorf("New(%+v) = nil", cfg)
		}
	}
	if Default() == nil {
		t.Error("Default() = nil")
	}
}

func TestLogger_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test", "frontend")
	log.Component("api").Info("request served", "status", 200)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	want := map[string]any{
		"service":   "hivelink",
		"version":   "test",
		"role":      "frontend",
		"component": "api",
		"msg":       "request served",
		"status":    float64(200),
	}
	for k, v := range want {
		if entries[0][k] != v {
			t.Errorf("%s = %v, want %v", k, entries[0][k], v)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "test", "")
	log.Info("suppressed")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") || !strings.Contains(out, "kept") {
		t.Errorf("warn-level output = %q", out)
	}
	if strings.Contains(out, "role=") {
		t.Error("empty role should not become a field")
	}
}

func TestLogger_SetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, config.LoggingConfig{Level: "error", Format: "json"}, "test", "backend")
	child := log.Component("rpc")

	child.Debug("hidden")
	log.SetLevel("debug")
	child.Debug("visible")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "visible" {
		t.Errorf("entries = %v, want only the post-SetLevel debug line", entries)
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test", "frontend")
	log.Info("bridge dial", "token", "eyJhbGciOi", "Password", "hunter2", slog.Group("auth", "secret", "s3"), "node", "fe-1")

	out := buf.String()
	for _, leak := range []string{"eyJhbGciOi", "hunter2", "s3\""} {
		if strings.Contains(out, leak) {
			t.Errorf("output leaks %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, `"node":"fe-1"`) {
		t.Errorf("non-sensitive field missing: %s", out)
	}
}
