package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a YAML config into a temp dir and points
// HIVELINK_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("HIVELINK_CONFIG", configPath)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HIVELINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_FrontendRole verifies a frontend config is refused.
func TestRun_FrontendRole(t *testing.T) {
	writeConfig(t, `
node:
  id: fe-1
  role: frontend
broker:
  kind: memory
`)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "node.role") {
		t.Fatalf("run() error = %v, want node.role error", err)
	}
}

// TestRun_StartupAndShutdown runs a full node on the in-process broker
// and stops it through context cancellation.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
node:
  id: be-test
  role: backend
broker:
  kind: memory
database:
  path: "`+dbPath+`"
  busy_timeout: 5
dispatch:
  workers: 2
  queue_size: 16
  shutdown_grace_ms: 200
gateway:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestGetConfigPath verifies the default path and the environment override.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("HIVELINK_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}

	expected := "/custom/path/config.yaml"
	t.Setenv("HIVELINK_CONFIG", expected)
	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
