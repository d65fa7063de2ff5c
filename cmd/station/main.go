// Instrument Station - remote access to laboratory instruments
//
// This is the main entry point for the station server. It owns the
// instrument drivers, answers instructions over the WebSocket request
// channel and broadcasts change events over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/instrument-station/internal/history"
	"github.com/nerrad567/instrument-station/internal/infrastructure/config"
	"github.com/nerrad567/instrument-station/internal/infrastructure/database"
	"github.com/nerrad567/instrument-station/internal/infrastructure/influxdb"
	"github.com/nerrad567/instrument-station/internal/infrastructure/logging"
	"github.com/nerrad567/instrument-station/internal/infrastructure/mqtt"
	"github.com/nerrad567/instrument-station/internal/instrument"
	"github.com/nerrad567/instrument-station/internal/station"
	"github.com/nerrad567/instrument-station/internal/transport"
	"github.com/nerrad567/instrument-station/migrations"

	// Drivers register their classes in the default catalog.
	_ "github.com/nerrad567/instrument-station/internal/drivers/dummy"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = config.EnvPrefix + "CONFIG"
	pruneInterval     = time.Hour
	shutdownTimeout   = 10 * time.Second
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting instrument station",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version).With("station", cfg.Station.ID)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	metrics := station.NewMetrics("instrument_station")
	broadcaster := station.NewBroadcaster(cfg.Broadcast.QueueSize, log.Component("broadcaster"))
	broadcaster.SetMetrics(metrics)
	health := map[string]transport.HealthChecker{}

	// Change journal (optional)
	if cfg.Database.HistoryEnabled {
		db, journal, dbErr := openJournal(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		broadcaster.AddSink("history", journal)
		health["database"] = db
		if cfg.Database.HistoryRetention > 0 {
			retention := time.Duration(cfg.Database.HistoryRetention) * time.Hour
			go pruneLoop(ctx, journal, retention, log.Component("history"))
		}
		log.Info("change journal ready", "path", cfg.Database.Path)
	} else {
		log.Info("change journal disabled")
	}

	// Publish channel (optional)
	if cfg.MQTT.Enabled {
		topics := mqtt.Topics{Prefix: cfg.Broadcast.TopicPrefix, StationID: cfg.Station.ID}
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, topics)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		// #nosec G115 -- Validate bounds qos to 0..2
		broadcaster.AddSink("mqtt", station.NewMQTTSink(mqttClient, topics.Event, byte(cfg.Broadcast.QoS)))
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topic_prefix", cfg.Broadcast.TopicPrefix,
		)
	} else {
		log.Info("MQTT disabled, change events stay local")
	}

	// Parameter telemetry (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB, cfg.Station.ID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		broadcaster.AddSink("influxdb", influxClient)
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Broadcaster runs until shutdown, then flushes what is queued.
	broadcastCtx, stopBroadcast := context.WithCancel(context.Background())
	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		broadcaster.Run(broadcastCtx)
	}()
	defer func() {
		stopBroadcast()
		<-broadcastDone
	}()

	registry := station.NewRegistry(instrument.Default())
	registry.SetLogger(log.Component("registry"))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("closing instruments", "count", registry.Len())
		if closeErr := registry.CloseAll(closeCtx); closeErr != nil {
			log.Error("error closing instruments", "error", closeErr)
		}
	}()
	dispatcher := station.NewDispatcher(registry, broadcaster, metrics, log.Component("dispatcher"))
	log.Info("instrument classes available", "classes", instrument.Default().Classes())

	srv, err := transport.New(transport.Deps{
		Config:  cfg.Transport,
		JWT:     cfg.Security.JWT,
		Logger:  log.Component("transport"),
		Handler: dispatcher,
		Metrics: metrics,
		Health:  health,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing transport", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("request channel authentication disabled (security.jwt.secret is empty)")
	}

	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: transport, instruments,
	// broadcaster flush, then InfluxDB, MQTT and the database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INSTRUMENTSTATION_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// openJournal opens the database, applies the embedded migrations and
// returns the change journal on top of it.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, *history.SQLiteRepository, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, history.NewSQLiteRepository(db.DB), nil
}

// pruneLoop deletes journal entries older than retention once an hour.
func pruneLoop(ctx context.Context, journal *history.SQLiteRepository, retention time.Duration, log *logging.Logger) {
	prune := func() {
		n, err := journal.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("history prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("history pruned", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
