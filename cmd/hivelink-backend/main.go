// HiveLink Backend - device event dispatch node
//
// This is the entry point for a HiveLink backend node. A backend:
//   - Consumes RPC requests from the shared request topic
//   - Keeps a replicated subscription registry in sync with its peers
//   - Publishes device events to matching subscribers
//   - Optionally exposes a websocket gateway so frontends can reach the
//     broker without a direct connection
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/hivelink/migrations"

	"github.com/nerrad567/hivelink/internal/backend"
	"github.com/nerrad567/hivelink/internal/bridge"
	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/dispatch"
	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/database"
	"github.com/nerrad567/hivelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hivelink/internal/infrastructure/kafka"
	"github.com/nerrad567/hivelink/internal/infrastructure/logging"
	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
	"github.com/nerrad567/hivelink/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when HIVELINK_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// memoryPartitions is the partition count of the in-process broker.
	memoryPartitions = 16
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
	log.Info("starting HiveLink backend",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Node.Role != config.RoleBackend {
		return fmt.Errorf("node.role is %q, want %q", cfg.Node.Role, config.RoleBackend)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version, cfg.Node.Role)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"node_id", cfg.Node.ID,
	)

	m := metrics.New()

	// Directory database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Broker
	b, err := openBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing broker", "kind", cfg.Broker.Kind)
		if closeErr := b.Close(); closeErr != nil {
			log.Error("error closing broker", "error", closeErr)
		}
	}()

	// Subscription registry, kept in sync with the other backends
	registry := eventbus.NewRegistry()
	registry.SetLogger(log.Component("registry"))
	registry.SetMetrics(m)
	replicator := eventbus.NewReplicator(b, registry, cfg.Node.ID)
	replicator.SetLogger(log.Component("replicator"))
	if startErr := replicator.Start(ctx); startErr != nil {
		return fmt.Errorf("starting registry replication: %w", startErr)
	}
	defer func() {
		if stopErr := replicator.Stop(); stopErr != nil {
			log.Error("error stopping registry replication", "error", stopErr)
		}
	}()

	bus := eventbus.NewEventBus(b, registry)
	bus.SetLogger(log.Component("eventbus"))

	// Action handlers
	handlers := backend.NewHandlers(replicator, bus, directory.NewSQLiteRepository(db), cfg.Dispatch.HistorySize)
	handlers.SetLogger(log.Component("backend"))

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		handlers.SetArchive(influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	router := dispatch.NewRouter()
	if regErr := handlers.Register(router); regErr != nil {
		return fmt.Errorf("registering handlers: %w", regErr)
	}

	// Dispatch server
	server := dispatch.NewServer(b, cfg.RPC, cfg.Dispatch, router)
	server.SetLogger(log.Component("dispatch"))
	server.Engine().SetMetrics(m)
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting dispatch server: %w", startErr)
	}
	log.Info("dispatch server started",
		"request_topic", cfg.RPC.RequestTopic,
		"workers", cfg.Dispatch.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)

	// Bridge gateway
	if cfg.Gateway.Enabled {
		gateway := bridge.NewGateway(cfg.Gateway, cfg.Security.JWT.Secret, b)
		gateway.SetLogger(log.Component("bridge"))
		gateway.SetMetrics(m)
		if startErr := gateway.Start(gctx); startErr != nil {
			return fmt.Errorf("starting gateway: %w", startErr)
		}
		log.Info("gateway listening", "address", gateway.Addr(), "path", cfg.Gateway.Path)
		g.Go(func() error {
			<-gctx.Done()
			if closeErr := gateway.Close(); closeErr != nil && !errors.Is(closeErr, http.ErrServerClosed) {
				return fmt.Errorf("closing gateway: %w", closeErr)
			}
			return nil
		})
	} else {
		log.Info("gateway disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining dispatch queue")
		if stopErr := server.Stop(cfg.Dispatch.ShutdownGrace()); stopErr != nil {
			return fmt.Errorf("stopping dispatch server: %w", stopErr)
		}
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	err = g.Wait()

	log.Info("HiveLink backend stopped")
	return err
}

// openBroker connects the broker selected by broker.kind.
func openBroker(ctx context.Context, cfg *config.Config, log *logging.Logger) (broker.Broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerMQTT:
		client, err := mqtt.Connect(cfg.MQTT, cfg.Node.ID)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log.Component("mqtt"))
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		return mqtt.NewBroker(client), nil
	case config.BrokerKafka:
		client, err := kafka.Connect(ctx, cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("connecting to Kafka: %w", err)
		}
		client.SetLogger(log.Component("kafka"))
		log.Info("Kafka connected", "brokers", cfg.Kafka.Brokers)
		return client, nil
	case config.BrokerMemory:
		mem := broker.NewMemory(memoryPartitions)
		mem.SetLogger(log.Component("broker"))
		log.Info("using in-process broker", "partitions", memoryPartitions)
		return mem, nil
	default:
		return nil, fmt.Errorf("broker kind %q is not supported by backend nodes", cfg.Broker.Kind)
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
