package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validJWTSecret is a secret that meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node:
  id: "backend-a"
  role: "backend"
broker:
  kind: "kafka"
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  partitions: 24
database:
  path: "/tmp/test.db"
dispatch:
  workers: 4
  queue_size: 256
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.ID != "backend-a" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "backend-a")
	}
	if cfg.Broker.Kind != BrokerKafka {
		t.Errorf("Broker.Kind = %q, want %q", cfg.Broker.Kind, BrokerKafka)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("len(Kafka.Brokers) = %d, want 2", len(cfg.Kafka.Brokers))
	}
	if cfg.Kafka.Partitions != 24 {
		t.Errorf("Kafka.Partitions = %d, want 24", cfg.Kafka.Partitions)
	}
	if cfg.Dispatch.QueueSize != 256 {
		t.Errorf("Dispatch.QueueSize = %d, want 256", cfg.Dispatch.QueueSize)
	}
	// Unset values keep their defaults
	if cfg.RPC.RequestTopic != "hivelink/rpc/request" {
		t.Errorf("RPC.RequestTopic = %q, want default", cfg.RPC.RequestTopic)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
node:
  id: ""
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid backend",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "valid frontend over bridge with static token",
			mutate: func(c *Config) {
				c.Node.Role = RoleFrontend
				c.Broker.Kind = BrokerBridge
				c.Bridge.Token = "token"
				c.Security.JWT.Secret = ""
			},
			wantErr: false,
		},
		{
			name:    "missing node id",
			mutate:  func(c *Config) { c.Node.ID = "" },
			wantErr: true,
		},
		{
			name:    "unknown role",
			mutate:  func(c *Config) { c.Node.Role = "sidecar" },
			wantErr: true,
		},
		{
			name:    "unknown broker kind",
			mutate:  func(c *Config) { c.Broker.Kind = "amqp" },
			wantErr: true,
		},
		{
			name:    "bridge on backend",
			mutate:  func(c *Config) { c.Broker.Kind = BrokerBridge },
			wantErr: true,
		},
		{
			name: "kafka without brokers",
			mutate: func(c *Config) {
				c.Broker.Kind = BrokerKafka
				c.Kafka.Brokers = nil
			},
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "zero ping attempts",
			mutate:  func(c *Config) { c.RPC.PingAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "zero dispatch workers",
			mutate:  func(c *Config) { c.Dispatch.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "gateway port out of range",
			mutate:  func(c *Config) { c.Gateway.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing JWT secret with gateway enabled",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name: "no secret needed without gateway",
			mutate: func(c *Config) {
				c.Gateway.Enabled = false
				c.Security.JWT.Secret = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = validJWTSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()
	cfg.RPC.CallTimeoutMS = 2500
	cfg.RPC.PingTimeoutMS = 300
	cfg.Dispatch.ShutdownGraceMS = 1000
	cfg.API.Timeouts = APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := cfg.RPC.CallTimeout(); got != 2500*time.Millisecond {
		t.Errorf("CallTimeout() = %v, want 2.5s", got)
	}
	if got := cfg.RPC.PingTimeout(); got != 300*time.Millisecond {
		t.Errorf("PingTimeout() = %v, want 300ms", got)
	}
	if got := cfg.Dispatch.ShutdownGrace(); got != time.Second {
		t.Errorf("ShutdownGrace() = %v, want 1s", got)
	}
	if got := cfg.API.Timeouts.WriteTimeout().Seconds(); got != 45 {
		t.Errorf("WriteTimeout() = %v, want 45", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HIVELINK_NODE_ID", "frontend-7")
	t.Setenv("HIVELINK_NODE_ROLE", "frontend")
	t.Setenv("HIVELINK_BROKER_KIND", "bridge")
	t.Setenv("HIVELINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HIVELINK_MQTT_PORT", "8883")
	t.Setenv("HIVELINK_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HIVELINK_BRIDGE_URL", "wss://backend.example.com/bridge")
	t.Setenv("HIVELINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HIVELINK_JWT_SECRET", "jwt-secret")
	t.Setenv("HIVELINK_API_PORT", "9080")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 9080 {
		t.Errorf("API.Port = %d, want 9080", cfg.API.Port)
	}

	if cfg.Node.ID != "frontend-7" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "frontend-7")
	}
	if cfg.Node.Role != RoleFrontend {
		t.Errorf("Node.Role = %q, want %q", cfg.Node.Role, RoleFrontend)
	}
	if cfg.Broker.Kind != BrokerBridge {
		t.Errorf("Broker.Kind = %q, want %q", cfg.Broker.Kind, BrokerBridge)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v, want [k1:9092 k2:9092]", cfg.Kafka.Brokers)
	}
	if cfg.Bridge.URL != "wss://backend.example.com/bridge" {
		t.Errorf("Bridge.URL = %q", cfg.Bridge.URL)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Node.ID == "" {
		t.Error("defaultConfig should have non-empty Node.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.RPC.PingAttempts != 10 {
		t.Errorf("defaultConfig RPC.PingAttempts = %d, want 10", cfg.RPC.PingAttempts)
	}
	if cfg.Gateway.Port != 8090 {
		t.Errorf("defaultConfig Gateway.Port = %d, want 8090", cfg.Gateway.Port)
	}
}
