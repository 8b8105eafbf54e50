package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pipewatch/pipewatch/internal/alerting"
	"github.com/pipewatch/pipewatch/internal/api"
	"github.com/pipewatch/pipewatch/internal/cache"
	"github.com/pipewatch/pipewatch/internal/checks"
	"github.com/pipewatch/pipewatch/internal/connectors"
	"github.com/pipewatch/pipewatch/internal/monitor"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/metrics"
	"github.com/pipewatch/pipewatch/pkg/resilience"
	"github.com/pipewatch/pipewatch/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "pipewatch",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting pipewatch monitor", "version", version)

	var tracingSvc *tracing.TracingService
	if cfg.Tracing.Enabled {
		tracingSvc, err = tracing.NewTracingService(&tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			JaegerEndpoint: cfg.Tracing.Endpoint,
			SamplingRate:   1.0,
			Enabled:        true,
		})
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		}
	}

	m := metrics.NewMetrics(nil)
	registry := resilience.NewCircuitBreakerRegistry()

	alertManager := alerting.NewAlertManager()
	alertManager.AddHandler(alerting.NewLoggingAlertHandler())
	checkGen := alerting.NewCheckAlertGenerator(alertManager)
	breakerGen := alerting.NewBreakerAlertGenerator(alertManager)

	resultStore, err := store.New(&cfg.Store)
	if err != nil {
		logger.Error("Failed to initialize results store", "error", err)
		os.Exit(1)
	}
	defer resultStore.Close()

	var redisClient *cache.RedisClient
	if redisClient, err = cache.NewRedisClient(&cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, schema cache disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	healthSvc := health.NewService(logger, map[string]string{
		"service": "pipewatch",
		"version": version,
	})
	healthSvc.RegisterChecker("store", health.NewStoreChecker(resultStore, "store"))
	healthSvc.RegisterChecker("circuit_breakers", health.NewBreakerChecker(registry, "circuit_breakers"))
	if redisClient != nil {
		healthSvc.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	}

	sources := openSources(cfg, registry, breakerGen, m, logger)
	if len(sources) == 0 {
		logger.Error("No source databases configured")
		os.Exit(1)
	}
	defer func() {
		for _, conn := range sources {
			conn.Close()
		}
	}()

	for name, conn := range sources {
		healthSvc.RegisterChecker("source_"+name, health.NewConnectorChecker(conn, name))
	}

	if redisClient != nil {
		logDiscoveredTables(redisClient, sources, logger)
	}

	monitorSvc := monitor.NewService(&cfg.Monitor, resultStore, registry, m, checkGen, tracingSvc)
	registerChecks(cfg, sources, monitorSvc, m, logger)

	for _, conn := range sources {
		if rc, ok := conn.(interface {
			Operation() *resilience.ResilientOperation
		}); ok {
			monitorSvc.ObserveOperation(rc.Operation())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedCtx, seedCancel := context.WithTimeout(ctx, 30*time.Second)
	monitorSvc.SeedBaselines(seedCtx)
	seedCancel()

	monitorSvc.Start(ctx)
	defer monitorSvc.Stop()

	apiServer := api.NewServer(&cfg.API, resultStore, registry, healthSvc)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("Status API failed", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status API shutdown failed", "error", err)
	}

	if tracingSvc != nil {
		if err := tracingSvc.Shutdown(shutdownCtx); err != nil {
			logger.Error("Tracing shutdown failed", "error", err)
		}
	}

	logger.Info("Shutdown complete")
}

// openSources connects to every configured source database and installs the
// alerting hook on each one's circuit breaker before any query runs
func openSources(cfg *config.Config, registry *resilience.CircuitBreakerRegistry, breakerGen *alerting.BreakerAlertGenerator, m *metrics.Metrics, logger *logging.Logger) map[string]connectors.Connector {
	sources := make(map[string]connectors.Connector)

	open := func(name string, dial func() (connectors.Connector, error)) {
		cbCfg := resilience.DatabaseCircuitBreakerConfig(name)
		cbCfg.OnStateChange = breakerGen.OnStateChange
		registry.GetOrCreate(cbCfg.Name, cbCfg)

		conn, err := dial()
		if err != nil {
			logger.Error("Failed to connect to source", "source", name, "error", err)
			return
		}
		sources[name] = conn
		logger.Info("Source connected", "source", name)
	}

	if cfg.Sources.Postgres.Name != "" {
		open("pg", func() (connectors.Connector, error) {
			return connectors.NewPostgresConnector("pg", &cfg.Sources.Postgres, registry, m)
		})
	}

	if cfg.Sources.MySQL.Name != "" {
		open("mysql", func() (connectors.Connector, error) {
			return connectors.NewMySQLConnector("mysql", &cfg.Sources.MySQL, registry, m)
		})
	}

	return sources
}

// registerChecks builds a freshness and a volume check per configured table
func registerChecks(cfg *config.Config, sources map[string]connectors.Connector, svc *monitor.Service, m *metrics.Metrics, logger *logging.Logger) {
	if len(cfg.Monitor.Tables) == 0 {
		logger.Warn("No tables configured, set MONITOR_TABLES to enable checks")
		return
	}

	for _, spec := range cfg.Monitor.Tables {
		conn, ok := sources[spec.Source]
		if !ok {
			logger.Warn("Skipping table with unknown source", "source", spec.Source, "table", spec.Table)
			continue
		}

		svc.AddCheck(checks.NewFreshnessCheck(checks.FreshnessCheckConfig{
			Table:           spec.Table,
			TimestampColumn: spec.TimestampColumn,
			MaxLag:          cfg.Monitor.FreshnessMaxLag,
		}, conn, m))

		svc.AddCheck(checks.NewVolumeCheck(checks.VolumeCheckConfig{
			Table:           spec.Table,
			TimestampColumn: spec.TimestampColumn,
			Window:          cfg.Monitor.CheckInterval,
			ZThreshold:      cfg.Monitor.AnomalyZScore,
			BaselineWindow:  cfg.Monitor.BaselineWindow,
		}, conn, m))

		logger.Info("Checks registered", "source", spec.Source, "table", spec.Table)
	}
}

// logDiscoveredTables warms the schema cache and reports what each source
// exposes, which helps spot MONITOR_TABLES typos at startup
func logDiscoveredTables(redisClient *cache.RedisClient, sources map[string]connectors.Connector, logger *logging.Logger) {
	schemaCache := cache.NewSchemaCache(redisClient, cache.DefaultSchemaTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for name, conn := range sources {
		tables, err := schemaCache.ListTables(ctx, conn)
		if err != nil {
			logger.Warn("Failed to list source tables", "source", name, "error", err)
			continue
		}
		logger.Info("Source tables discovered", "source", name, "tables", len(tables))
	}
}
