package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"temperature-map/internal/models"
	"temperature-map/pkg/database"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// TemperatureRepository provides data access for the persisted map datasets
type TemperatureRepository interface {
	// Country temperature operations
	UpsertCountryTemperatures(ctx context.Context, temps []models.CountryTemperature) error
	ListCountryTemperatures(ctx context.Context) ([]models.CountryTemperature, error)
	GetCountryTemperature(ctx context.Context, code string) (*models.CountryTemperature, error)

	// Per-frame country series operations
	UpsertCountrySeries(ctx context.Context, rows []models.CountryFrameTemperature) error
	ListCountrySeries(ctx context.Context, code string) ([]models.CountryFrameTemperature, error)

	// Station operations
	UpsertStations(ctx context.Context, stations []models.PointEntity) error
	ListStations(ctx context.Context) ([]models.PointEntity, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// stationRow is the stored form of a PointEntity
type stationRow struct {
	Name      string    `db:"name"`
	Lat       float64   `db:"lat"`
	Lon       float64   `db:"lon"`
	Elevation float64   `db:"elevation"`
	Q1        float64   `db:"q1_kelvin"`
	Q2        float64   `db:"q2_kelvin"`
	Q3        float64   `db:"q3_kelvin"`
	Q4        float64   `db:"q4_kelvin"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r stationRow) toPointEntity() models.PointEntity {
	return models.PointEntity{
		Name:            r.Name,
		Lat:             r.Lat,
		Lon:             r.Lon,
		Elevation:       r.Elevation,
		QuartilesKelvin: [4]float64{r.Q1, r.Q2, r.Q3, r.Q4},
	}
}

// temperatureRepository implements TemperatureRepository
type temperatureRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTemperatureRepository creates a new temperature repository
func NewTemperatureRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) TemperatureRepository {
	return &temperatureRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// UpsertCountryTemperatures writes the batch in a single transaction
func (r *temperatureRepository) UpsertCountryTemperatures(ctx context.Context, temps []models.CountryTemperature) error {
	if len(temps) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_UPSERT_COUNTRIES] Batch upsert completed", logging.Fields{
			"count":       len(temps),
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO country_temperatures (iso3, name, temperature_celsius, sample_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (iso3) DO UPDATE SET
			name = EXCLUDED.name,
			temperature_celsius = EXCLUDED.temperature_celsius,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range temps {
		updatedAt := t.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, t.IdentityCode, t.DisplayName, t.TemperatureCelsius, t.SampleCount, updatedAt); err != nil {
			return fmt.Errorf("failed to upsert country %s: %w", t.IdentityCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(temps)))
	return nil
}

// ListCountryTemperatures returns every stored country ordered by code
func (r *temperatureRepository) ListCountryTemperatures(ctx context.Context) ([]models.CountryTemperature, error) {
	query := `
		SELECT iso3, name, temperature_celsius, sample_count, updated_at
		FROM country_temperatures
		ORDER BY iso3
	`

	var temps []models.CountryTemperature
	if err := r.db.SelectContext(ctx, "list_country_temperatures", &temps, query); err != nil {
		return nil, fmt.Errorf("failed to list country temperatures: %w", err)
	}
	return temps, nil
}

// GetCountryTemperature retrieves one country by identity code
func (r *temperatureRepository) GetCountryTemperature(ctx context.Context, code string) (*models.CountryTemperature, error) {
	query := `
		SELECT iso3, name, temperature_celsius, sample_count, updated_at
		FROM country_temperatures
		WHERE iso3 = $1
	`

	var temp models.CountryTemperature
	err := r.db.GetContext(ctx, "get_country_temperature", &temp, query, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "country_temperature",
			ID:       code,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get country temperature: %w", err)
	}

	return &temp, nil
}

// UpsertCountrySeries writes per-frame rows in a single transaction, keyed by
// code and frame
func (r *temperatureRepository) UpsertCountrySeries(ctx context.Context, rows []models.CountryFrameTemperature) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO country_temperature_series (iso3, frame_time, temperature_celsius, sample_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (iso3, frame_time) DO UPDATE SET
			temperature_celsius = EXCLUDED.temperature_celsius,
			sample_count = EXCLUDED.sample_count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.IdentityCode, row.Timestamp, row.TemperatureCelsius, row.SampleCount); err != nil {
			return fmt.Errorf("failed to upsert series %s@%s: %w", row.IdentityCode, row.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(rows)))
	return nil
}

// ListCountrySeries returns one country's frames in timestamp order. An
// unknown code yields an empty slice.
func (r *temperatureRepository) ListCountrySeries(ctx context.Context, code string) ([]models.CountryFrameTemperature, error) {
	query := `
		SELECT iso3, frame_time, temperature_celsius, sample_count
		FROM country_temperature_series
		WHERE iso3 = $1
		ORDER BY frame_time
	`

	rows := []models.CountryFrameTemperature{}
	if err := r.db.SelectContext(ctx, "list_country_series", &rows, query, code); err != nil {
		return nil, fmt.Errorf("failed to list country series: %w", err)
	}
	return rows, nil
}

// UpsertStations writes the stations in a single transaction, keyed by position
func (r *temperatureRepository) UpsertStations(ctx context.Context, stations []models.PointEntity) error {
	if len(stations) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stations (lon, lat, name, elevation, q1_kelvin, q2_kelvin, q3_kelvin, q4_kelvin, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lon, lat) DO UPDATE SET
			name = EXCLUDED.name,
			elevation = EXCLUDED.elevation,
			q1_kelvin = EXCLUDED.q1_kelvin,
			q2_kelvin = EXCLUDED.q2_kelvin,
			q3_kelvin = EXCLUDED.q3_kelvin,
			q4_kelvin = EXCLUDED.q4_kelvin,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range stations {
		q := s.QuartilesKelvin
		if _, err := stmt.ExecContext(ctx, s.Lon, s.Lat, s.Name, s.Elevation, q[0], q[1], q[2], q[3], now); err != nil {
			return fmt.Errorf("failed to upsert station %s: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(stations)))

	r.logger.Debug(ctx, "[REPO_UPSERT_STATIONS] Stations upserted", logging.Fields{
		"count": len(stations),
	})
	return nil
}

// ListStations returns every stored station ordered by name
func (r *temperatureRepository) ListStations(ctx context.Context) ([]models.PointEntity, error) {
	query := `
		SELECT name, lat, lon, elevation, q1_kelvin, q2_kelvin, q3_kelvin, q4_kelvin, updated_at
		FROM stations
		ORDER BY name, lon, lat
	`

	var rows []stationRow
	if err := r.db.SelectContext(ctx, "list_stations", &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}

	points := make([]models.PointEntity, 0, len(rows))
	for _, row := range rows {
		points = append(points, row.toPointEntity())
	}
	return points, nil
}

// HealthCheck performs a repository health check
func (r *temperatureRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
