package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Node roles.
const (
	RoleBackend  = "backend"
	RoleFrontend = "frontend"
)

// Broker kinds.
const (
	BrokerMQTT   = "mqtt"
	BrokerKafka  = "kafka"
	BrokerMemory = "memory"
	BrokerBridge = "bridge"
)

// Config is the root configuration structure for HiveLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Broker   BrokerConfig   `yaml:"broker"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RPC      RPCConfig      `yaml:"rpc"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// NodeConfig identifies this process within the cluster.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

// BrokerConfig selects the message broker implementation.
type BrokerConfig struct {
	// Kind is one of "mqtt", "kafka", "memory" or "bridge".
	// "bridge" is only valid for frontend nodes.
	Kind string `yaml:"kind"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// KafkaConfig contains Kafka cluster settings.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	ClientID          string   `yaml:"client_id"`
	Partitions        int      `yaml:"partitions"`
	ReplicationFactor int      `yaml:"replication_factor"`
	FetchMaxWaitMS    int      `yaml:"fetch_max_wait_ms"`
	TLS               bool     `yaml:"tls"`
}

// RPCConfig contains request/response transport settings shared by
// frontend clients and backend servers.
type RPCConfig struct {
	RequestTopic     string `yaml:"request_topic"`
	ReplyTopicPrefix string `yaml:"reply_topic_prefix"`
	Group            string `yaml:"group"`
	CallTimeoutMS    int    `yaml:"call_timeout_ms"`
	PingAttempts     int    `yaml:"ping_attempts"`
	PingTimeoutMS    int    `yaml:"ping_timeout_ms"`
	ReplyWorkers     int    `yaml:"reply_workers"`
}

// DispatchConfig contains backend dispatch engine settings.
type DispatchConfig struct {
	Workers         int `yaml:"workers"`
	QueueSize       int `yaml:"queue_size"`
	ShutdownGraceMS int `yaml:"shutdown_grace_ms"`
	HistorySize     int `yaml:"history_size"`
}

// GatewayConfig contains the backend bridge gateway settings.
type GatewayConfig struct {
	Enabled        bool             `yaml:"enabled"`
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	Path           string           `yaml:"path"`
	MaxMessageSize int              `yaml:"max_message_size"`
	Timeouts       APITimeoutConfig `yaml:"timeouts"`
}

// BridgeConfig contains the frontend proxy client settings.
type BridgeConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Workers     int    `yaml:"workers"`
	OpTimeoutMS int    `yaml:"op_timeout_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the frontend HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the API.
	// An empty list allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains event stream connection settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the shared secret used to sign bridge tokens.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	BridgeTokenTTL int    `yaml:"bridge_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HIVELINK_SECTION_KEY
// For example: HIVELINK_NODE_ID, HIVELINK_BROKER_KIND
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "hivelink-01",
			Role: RoleBackend,
		},
		Broker: BrokerConfig{
			Kind: BrokerMQTT,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hivelink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			ClientID:          "hivelink",
			Partitions:        12,
			ReplicationFactor: 1,
			FetchMaxWaitMS:    500,
		},
		RPC: RPCConfig{
			RequestTopic:     "hivelink/rpc/request",
			ReplyTopicPrefix: "hivelink/rpc/reply",
			Group:            "hivelink-backend",
			CallTimeoutMS:    10000,
			PingAttempts:     10,
			PingTimeoutMS:    3000,
			ReplyWorkers:     3,
		},
		Dispatch: DispatchConfig{
			Workers:         8,
			QueueSize:       1024,
			ShutdownGraceMS: 5000,
			HistorySize:     100,
		},
		Gateway: GatewayConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8090,
			Path:           "/bridge",
			MaxMessageSize: 1 << 20,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  120,
			},
		},
		Bridge: BridgeConfig{
			URL:         "ws://localhost:8090/bridge",
			Workers:     3,
			OpTimeoutMS: 5000,
		},
		Database: DatabaseConfig{
			Path:        "./data/hivelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				BridgeTokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HIVELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("HIVELINK_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("HIVELINK_NODE_ROLE"); v != "" {
		cfg.Node.Role = v
	}

	// Broker
	if v := os.Getenv("HIVELINK_BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}

	// MQTT
	if v := os.Getenv("HIVELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HIVELINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HIVELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HIVELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Kafka
	if v := os.Getenv("HIVELINK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	// Bridge
	if v := os.Getenv("HIVELINK_BRIDGE_URL"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("HIVELINK_BRIDGE_TOKEN"); v != "" {
		cfg.Bridge.Token = v
	}

	// API
	if v := os.Getenv("HIVELINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Database
	if v := os.Getenv("HIVELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HIVELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("HIVELINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}
	if c.Node.Role != RoleBackend && c.Node.Role != RoleFrontend {
		errs = append(errs, "node.role must be backend or frontend")
	}

	switch c.Broker.Kind {
	case BrokerMQTT, BrokerMemory:
	case BrokerKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka.brokers is required when broker.kind is kafka")
		}
	case BrokerBridge:
		if c.Node.Role != RoleFrontend {
			errs = append(errs, "broker.kind bridge is only valid for frontend nodes")
		}
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge.url is required when broker.kind is bridge")
		}
	default:
		errs = append(errs, "broker.kind must be mqtt, kafka, memory or bridge")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.RPC.RequestTopic == "" {
		errs = append(errs, "rpc.request_topic is required")
	}
	if c.RPC.PingAttempts < 1 {
		errs = append(errs, "rpc.ping_attempts must be at least 1")
	}

	if c.Node.Role == RoleBackend {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required")
		}
		if c.Dispatch.Workers < 1 {
			errs = append(errs, "dispatch.workers must be at least 1")
		}
		if c.Dispatch.QueueSize < 1 {
			errs = append(errs, "dispatch.queue_size must be at least 1")
		}
		if c.Gateway.Enabled && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
			errs = append(errs, "gateway.port must be between 1 and 65535")
		}
	}

	if c.Node.Role == RoleFrontend {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.WebSocket.PingInterval < 1 {
			errs = append(errs, "api.websocket.ping_interval must be at least 1")
		}
	}

	// The secret signs and verifies bridge tokens. A weak secret lets anyone
	// attach to the backend broker through the gateway.
	const minJWTSecretLength = 32
	needSecret := (c.Node.Role == RoleBackend && c.Gateway.Enabled) ||
		(c.Broker.Kind == BrokerBridge && c.Bridge.Token == "")
	if needSecret {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set HIVELINK_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CallTimeout returns the default RPC call timeout.
func (c RPCConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// PingTimeout returns the per-attempt ping timeout.
func (c RPCConfig) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMS) * time.Millisecond
}

// ShutdownGrace returns how long the dispatch engine drains before force-stopping.
func (c DispatchConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMS) * time.Millisecond
}

// OpTimeout returns the timeout for a single bridge protocol exchange.
func (c BridgeConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMS) * time.Millisecond
}

// FetchMaxWait returns the Kafka fetch long-poll duration.
func (c KafkaConfig) FetchMaxWait() time.Duration {
	return time.Duration(c.FetchMaxWaitMS) * time.Millisecond
}

// ReadTimeout returns the read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
