package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"temperature-map/internal/config"
	"temperature-map/internal/datastore"
	"temperature-map/internal/repository"
	"temperature-map/internal/services"
	"temperature-map/pkg/database"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnv), "Path to the YAML config file")
	geometry := flag.String("geometry", "", "Geometry source (defaults to sources.geometry)")
	archive := flag.String("archive", "", "Time-series archive (defaults to sources.time_series)")
	points := flag.String("points", "", "Point dataset (defaults to sources.points)")
	batchSize := flag.Int("batch-size", 500, "Number of records to upsert in each batch")
	skipCountries := flag.Bool("skip-countries", false, "Do not aggregate country temperatures")
	skipSeries := flag.Bool("skip-series", false, "Do not aggregate per-frame country series")
	skipStations := flag.Bool("skip-stations", false, "Do not import stations")
	migrate := flag.Bool("migrate", false, "Apply database migrations before ingesting")
	flag.Parse()

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateDatabase(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	sources := resolveSources(cfg.Sources.DatastoreSources(), sourceOverrides{
		Geometry:       *geometry,
		TimeSeries:     *archive,
		Points:         *points,
		SkipTimeSeries: *skipCountries && *skipSeries,
		SkipStations:   *skipStations,
	})

	logger := logging.NewStructuredLogger("temperature-map-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting temperature ingestion", logging.Fields{
		"geometry":    sources.Geometry,
		"time_series": sources.TimeSeries,
		"points":      sources.Points,
		"batch_size":  *batchSize,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("temperature_map_ingester")

	dbConfig := cfg.Database.PostgresConfig()
	if *migrate {
		if err := database.RunMigrations(dbConfig.URL(), cfg.Database.MigrationsPath); err != nil {
			logger.Fatal(ctx, "[MIGRATION_ERROR] Failed to apply migrations", logging.Fields{
				"path": cfg.Database.MigrationsPath,
			}, err)
		}
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewTemperatureRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(repo, logger, metricsCollector)

	fetcher := &datastore.Router{
		HTTP: datastore.NewHTTPFetcher(cfg.Sources.FetchTimeout),
		File: datastore.FileFetcher{},
	}
	if objCfg, ok := cfg.ObjectStore.ObjectStore(); ok {
		objectFetcher, err := datastore.NewObjectFetcher(objCfg)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to create object store client", logging.Fields{}, err)
		}
		fetcher.Object = objectFetcher
	}

	ds, err := datastore.NewStore(sources, fetcher, nil, logger, metricsCollector).LoadAll(ctx)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to load geometry", logging.Fields{}, err)
	}

	failed := false

	if sources.TimeSeries != "" {
		if ds.SeriesErr != nil {
			logger.Error(ctx, "[INGESTER_ERROR] Time series unavailable, skipping countries", logging.Fields{}, ds.SeriesErr)
			failed = true
		} else {
			if !*skipCountries {
				result, err := ingestionService.IngestCountries(ctx, ds.Features, ds.Series, *batchSize)
				failed = report(ctx, logger, "COUNTRIES", result, err) || failed
			}
			if !*skipSeries {
				result, err := ingestionService.IngestCountrySeries(ctx, ds.Features, ds.Series, *batchSize)
				failed = report(ctx, logger, "COUNTRY SERIES", result, err) || failed
			}
		}
	}

	if sources.Points != "" {
		if ds.PointsErr != nil {
			logger.Error(ctx, "[INGESTER_ERROR] Point dataset unavailable, skipping stations", logging.Fields{}, ds.PointsErr)
			failed = true
		} else {
			result, err := ingestionService.IngestStations(ctx, ds.Points, *batchSize)
			failed = report(ctx, logger, "STATIONS", result, err) || failed
		}
	}

	if failed {
		os.Exit(1)
	}
}

// sourceOverrides holds the command-line source flags
type sourceOverrides struct {
	Geometry       string
	TimeSeries     string
	Points         string
	SkipTimeSeries bool
	SkipStations   bool
}

// resolveSources applies the flags to the configured sources. Temperatures
// are never read, and a database point source is dropped since the ingester
// writes stations rather than reading them.
func resolveSources(sources datastore.Sources, o sourceOverrides) datastore.Sources {
	sources.Temperatures = ""
	if o.Geometry != "" {
		sources.Geometry = o.Geometry
	}
	if o.TimeSeries != "" {
		sources.TimeSeries = o.TimeSeries
	}
	if o.Points != "" {
		sources.Points = o.Points
	}
	if strings.EqualFold(strings.TrimSpace(sources.Points), datastore.DatabaseSource) {
		sources.Points = ""
	}
	if o.SkipTimeSeries {
		sources.TimeSeries = ""
	}
	if o.SkipStations {
		sources.Points = ""
	}
	return sources
}

// report logs a failed ingestion or prints the result, and returns whether
// anything failed
func report(ctx context.Context, logger *logging.StructuredLogger, title string, result *services.IngestionResult, err error) bool {
	if err != nil {
		logger.Error(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"dataset": title,
		}, err)
		return true
	}
	printResult(title, result)
	return result.FailedRecords > 0
}

func printResult(title string, result *services.IngestionResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%s INGESTION COMPLETE\n", title)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Successful Records: %d\n", result.SuccessfulRecords)
	fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
	fmt.Printf("Duration:           %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}
