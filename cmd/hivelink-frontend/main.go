// HiveLink Frontend - device event API node
//
// This is the entry point for a HiveLink frontend node. A frontend serves
// the HTTP and websocket API and forwards every operation to the backends
// over the broker, either directly (MQTT, Kafka) or through a backend's
// websocket gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/hivelink/internal/api"
	"github.com/nerrad567/hivelink/internal/bridge"
	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/frontend"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/kafka"
	"github.com/nerrad567/hivelink/internal/infrastructure/logging"
	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
	"github.com/nerrad567/hivelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hivelink/internal/rpc"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when HIVELINK_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// unsubscribeTimeout bounds releasing subscriptions at shutdown.
	unsubscribeTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting HiveLink frontend",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Node.Role != config.RoleFrontend {
		return fmt.Errorf("node.role is %q, want %q", cfg.Node.Role, config.RoleFrontend)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version, cfg.Node.Role)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"node_id", cfg.Node.ID,
	)

	m := metrics.New()

	// RPC client
	b, onLost, err := openBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	client := rpc.NewClient(b, cfg.RPC)
	client.SetLogger(log.Component("rpc"))
	client.SetMetrics(m)
	if onLost != nil {
		onLost(func(cause error) {
			log.Error("bridge connection lost, failing outstanding calls", "error", cause)
			client.ConnectionLost(cause)
		})
	}
	if startErr := client.Start(ctx); startErr != nil {
		b.Close() //nolint:errcheck // already failing
		return fmt.Errorf("starting RPC client: %w", startErr)
	}
	defer func() {
		log.Info("closing RPC client")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing RPC client", "error", closeErr)
		}
		if closeErr := b.Close(); closeErr != nil {
			log.Error("error closing broker", "error", closeErr)
		}
	}()
	log.Info("RPC client started", "reply_topic", client.ReplyTopic())

	service := frontend.NewService(client)
	service.SetLogger(log.Component("frontend"))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if closeErr := service.Close(closeCtx); closeErr != nil {
			log.Warn("releasing subscriptions failed", "error", closeErr)
		}
	}()

	// HTTP API
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log.Component("api"),
		Service: service,
		Metrics: m,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server (websocket clients release their subscriptions)
	// 2. Remaining subscriptions
	// 3. RPC client and broker

	log.Info("HiveLink frontend stopped")
	return nil
}

// openBroker connects the broker selected by broker.kind. For the bridge
// it also returns a hook to register a connection-loss callback.
func openBroker(ctx context.Context, cfg *config.Config, log *logging.Logger) (broker.Broker, func(func(error)), error) {
	switch cfg.Broker.Kind {
	case config.BrokerMQTT:
		client, err := mqtt.Connect(cfg.MQTT, cfg.Node.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log.Component("mqtt"))
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		return mqtt.NewBroker(client), nil, nil
	case config.BrokerKafka:
		client, err := kafka.Connect(ctx, cfg.Kafka)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Kafka: %w", err)
		}
		client.SetLogger(log.Component("kafka"))
		log.Info("Kafka connected", "brokers", cfg.Kafka.Brokers)
		return client, nil, nil
	case config.BrokerBridge:
		bridgeCfg := cfg.Bridge
		if bridgeCfg.Token == "" {
			ttl := time.Duration(cfg.Security.JWT.BridgeTokenTTL) * time.Minute
			token, err := bridge.IssueToken(cfg.Node.ID, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return nil, nil, fmt.Errorf("issuing bridge token: %w", err)
			}
			bridgeCfg.Token = token
		}
		client, err := bridge.DialWithLogger(ctx, bridgeCfg, log.Component("bridge"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to bridge gateway: %w", err)
		}
		return client, client.OnDisconnect, nil
	default:
		return nil, nil, fmt.Errorf("broker kind %q is not supported by frontend nodes", cfg.Broker.Kind)
	}
}

// getConfigPath returns the configuration file path.
// Uses HIVELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HIVELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
