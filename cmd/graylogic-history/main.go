// Gray Logic History - meter history backfill service
//
// This is the main entry point for the history service. It keeps the local
// copy of half-hourly meter readings complete over a rolling window by
// fetching whatever is missing from the remote metering API:
//   - One synchronisation loop per configured channel
//   - Pluggable sample store (SQLite, InfluxDB, VictoriaMetrics, PostgreSQL)
//   - Status and refresh commands over MQTT for the home-automation host
//   - HTTP status API with a WebSocket event stream
package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/api"
	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/historybus"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-history/internal/meter"
	"github.com/nerrad567/gray-logic-history/internal/samplestore"
	"github.com/nerrad567/gray-logic-history/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	// startupCheckTimeout bounds the health checks run before serving.
	startupCheckTimeout = 10 * time.Second

	// recordTimeout bounds a single run log insert from the status callback.
	recordTimeout = 5 * time.Second

	// pruneInterval is how often old runs are removed from the run log.
	pruneInterval = 24 * time.Hour
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic History",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// The SQLite database always holds the run log, whichever backend keeps
	// the samples.
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
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store, err := samplestore.Open(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("opening %s sample store: %w", cfg.History.Store, err)
	}
	defer func() {
		log.Info("closing sample store", "store", store.Name())
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing sample store", "error", closeErr)
		}
	}()
	log.Info("sample store ready", "store", store.Name())

	meterClient, err := meter.New(cfg.Meter)
	if err != nil {
		return fmt.Errorf("creating meter client: %w", err)
	}

	runLog := samplestore.NewRunLog(db)

	scheduler, err := newScheduler(cfg, meterClient, store, log)
	if err != nil {
		return err
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var bus *historybus.Bus
	if cfg.MQTT.Enabled {
		mqttClient, bus, err = startMQTT(cfg, scheduler, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := bus.Close(); closeErr != nil {
				log.Warn("error closing history bus", "error", closeErr)
			}
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	checks := map[string]api.HealthChecker{
		"database": db,
		"store":    store,
		"meter":    meterClient,
	}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}

	deps := api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		History:  scheduler,
		Runs:     runLog,
		Checks:   checks,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	scheduler.SetOnStatus(func(st backfill.ChannelStatus) {
		recordCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if recErr := runLog.Record(recordCtx, st); recErr != nil {
			log.Warn("recording history run failed", "run_id", st.RunID, "error", recErr)
		}
		if bus != nil {
			bus.PublishStatus(st)
		}
		apiServer.PublishStatus(st)
	})

	// The metering API may be down at boot; the scheduler keeps retrying it
	// like any other communication error, so it only warns here.
	required := maps.Clone(checks)
	delete(required, "meter")
	if err := healthCheck(ctx, required); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := healthCheck(ctx, map[string]api.HealthChecker{"meter": meterClient}); err != nil {
		log.Warn("metering API unreachable at startup, sync will retry", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go pruneRuns(ctx, runLog, cfg.GetRunRetention(), log)

	log.Info("initialisation complete, synchronising history",
		"channels", len(scheduler.Channels()),
		"window", cfg.GetHistoryWindow(),
		"interval", cfg.GetHistoryInterval(),
	)

	// Run blocks until the shutdown signal.
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("history scheduler: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. History bus and MQTT (if enabled)
	// 3. Sample store
	// 4. Database

	log.Info("Gray Logic History stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_HISTORY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_HISTORY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newScheduler builds the executor and scheduler for the configured channels.
func newScheduler(cfg *config.Config, remote backfill.RemoteAPI, store backfill.LocalStore, log *logging.Logger) (*backfill.Scheduler, error) {
	exec := backfill.NewExecutor(remote, store)
	exec.SetLogger(log.Component("backfill"))

	channels := make([]backfill.Channel, 0, len(cfg.History.Channels))
	for _, ch := range cfg.History.Channels {
		channels = append(channels, backfill.Channel{ResourceID: ch.ResourceID, Item: ch.Item})
	}

	scheduler, err := backfill.NewScheduler(exec, channels, backfill.SchedulerOptions{
		Window:       cfg.GetHistoryWindow(),
		Interval:     cfg.GetHistoryInterval(),
		Concurrency:  cfg.History.Concurrency,
		RetryInitial: cfg.GetRetryInitial(),
		RetryMax:     cfg.GetRetryMax(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating history scheduler: %w", err)
	}
	scheduler.SetLogger(log.Component("scheduler"))
	return scheduler, nil
}

// startMQTT connects to the broker and starts the history bus.
//
// Parameters:
//   - cfg: Application configuration
//   - scheduler: Scheduler receiving refresh commands
//   - log: Logger instance
//
// Returns:
//   - *mqtt.Client: Connected client
//   - *historybus.Bus: Started bus
//   - error: If connection or subscription fails
func startMQTT(cfg *config.Config, scheduler *backfill.Scheduler, log *logging.Logger) (*mqtt.Client, *historybus.Bus, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bus := historybus.New(client, scheduler)
	bus.SetLogger(log.Component("historybus"))

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		// Statuses changed while offline were not published.
		go bus.PublishAll()
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := bus.Start(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("starting history bus: %w", err)
	}
	return client, bus, nil
}

// healthCheck verifies every component answers before serving.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: Components by name
//
// Returns:
//   - error: All failures joined, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	var errs []error
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// pruneRuns removes runs older than retention once a day until ctx is done.
func pruneRuns(ctx context.Context, runs *samplestore.RunLog, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		removed, err := runs.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning history runs failed", "error", err)
		case removed > 0:
			log.Info("pruned history runs", "removed", removed, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
