package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"temperature-map/internal/config"
	"temperature-map/internal/datastore"
	"temperature-map/internal/handlers"
	"temperature-map/internal/models"
	"temperature-map/internal/repository"
	"temperature-map/internal/services"
	"temperature-map/pkg/database"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnv), "Path to the YAML config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("temperature-map", version, logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting temperature map server", logging.Fields{
		"version":      version,
		"server_host":  cfg.Server.Host,
		"server_port":  cfg.Server.Port,
		"geometry":     cfg.Sources.Geometry,
		"temperatures": cfg.Sources.Temperatures,
		"points":       cfg.Sources.Points,
		"time_series":  cfg.Sources.TimeSeries,
		"db_enabled":   cfg.Database.Enabled,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("temperature_map")

	healthChecks := map[string]handlers.HealthCheck{}

	// Database is only needed for "db" sources
	var catalog datastore.Catalog
	var catalogHandler *handlers.CatalogHandler
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(cfg.Database.PostgresConfig(), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		repo := repository.NewTemperatureRepository(db, logger, metricsCollector)
		catalog = repo
		catalogHandler = handlers.NewCatalogHandler(services.NewCatalogService(repo, logger, metricsCollector), logger, metricsCollector)
		healthChecks["database"] = repo.HealthCheck
	}

	// Redis keeps fetched payloads across restarts
	var cache datastore.PayloadCache
	if client := datastore.OpenRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); client != nil {
		defer client.Close()
		redisCache := datastore.NewRedisCache(client, cfg.Redis.Prefix, cfg.Redis.TTL)
		cache = redisCache
		healthChecks["redis"] = redisCache.Ping
	}

	router := &datastore.Router{
		HTTP: datastore.NewHTTPFetcher(cfg.Sources.FetchTimeout),
		File: datastore.FileFetcher{},
	}
	if objCfg, ok := cfg.ObjectStore.ObjectStore(); ok {
		objectFetcher, err := datastore.NewObjectFetcher(objCfg)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to create object store client", logging.Fields{
				"endpoint": objCfg.Endpoint,
			}, err)
		}
		router.Object = objectFetcher
	}
	var fetcher datastore.Fetcher = router
	if cache != nil {
		fetcher = datastore.NewCachingFetcher(router, cache, logger, metricsCollector)
	}

	// Load waits for the base map only; points and the time series reach the
	// views through the subscription below
	store := datastore.NewStore(cfg.Sources.DatastoreSources(), fetcher, catalog, logger, metricsCollector)
	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.Server.LoadTimeout)
	dataset, loadErr := store.Load(loadCtx)
	cancelLoad()
	if loadErr != nil {
		logger.Error(ctx, "[STARTUP_DEGRADED] Map data failed to load, serving failure scenes", logging.Fields{}, loadErr)
	}

	var temps models.TemperatureSample
	if dataset != nil {
		temps = dataset.Temperatures
	}
	bridge, err := services.NewBridge(cfg.Map.BridgeOptions(), temps)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid map settings", logging.Fields{}, err)
	}

	registry := services.NewViewRegistry(dataset, loadErr, bridge, logger, metricsCollector, cfg.Server.MaxViews, cfg.Server.ViewIdleTimeout)
	if loadErr == nil {
		store.Subscribe(func(ds *datastore.Dataset) {
			registry.Update(ctx, ds)
		})
	}
	viewHandler := handlers.NewViewHandler(registry, services.NewStatisticsService(), logger, metricsCollector)
	for name, check := range healthChecks {
		viewHandler.AddHealthCheck(name, check)
	}

	// Setup router
	r := mux.NewRouter()
	viewHandler.RegisterRoutes(r)
	if catalogHandler != nil {
		catalogHandler.RegisterRoutes(r)
	}

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{
		"active_views": registry.Count(),
	})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
