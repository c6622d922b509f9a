package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"temperature-map/internal/config"
	"temperature-map/pkg/database"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnv), "Path to the YAML config file")
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 1, "Number of migrations to roll back with -direction down")
	path := flag.String("path", "", "Migration source (defaults to database.migrations_path)")
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

	source := cfg.Database.MigrationsPath
	if *path != "" {
		source = *path
	}
	dbURL := cfg.Database.PostgresConfig().URL()

	switch *direction {
	case "up":
		fmt.Printf("Applying migrations from %s\n", source)
		err = database.RunMigrations(dbURL, source)
	case "down":
		fmt.Printf("Rolling back %d migration(s) from %s\n", *steps, source)
		err = database.RollbackMigrations(dbURL, source, *steps)
	default:
		err = fmt.Errorf("unknown direction %q, expected up or down", *direction)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	version, dirty, err := database.MigrationVersion(dbURL, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Migration completed successfully (version %d, dirty %t)\n", version, dirty)
}
