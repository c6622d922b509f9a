package services

import (
	"context"
	"fmt"
	"time"

	"temperature-map/internal/models"
	"temperature-map/internal/repository"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// IngestionService persists aggregated country temperatures and stations
type IngestionService struct {
	repo    repository.TemperatureRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Duration          time.Duration
	Errors            []string
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.TemperatureRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestCountries aggregates the series over the regions and upserts the
// result in batches
func (s *IngestionService) IngestCountries(ctx context.Context, features []models.Feature, series *models.TimeSeries, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Aggregating country temperatures", logging.Fields{
		"features":   len(features),
		"frames":     series.Len(),
		"batch_size": batchSize,
		"stage":      "AGGREGATION",
	})

	if series.Len() == 0 {
		return nil, models.EmptyDatasetError("time series has no frames to aggregate")
	}

	temps, err := AggregateCountries(ctx, features, series)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate countries: %w", err)
	}
	if len(temps) == 0 {
		return nil, models.EmptyDatasetError("no samples fell inside any region")
	}

	result := &IngestionResult{TotalRecords: len(temps), Errors: make([]string, 0)}
	for _, batch := range batches(temps, batchSize) {
		if err := s.repo.UpsertCountryTemperatures(ctx, batch); err != nil {
			result.FailedRecords += len(batch)
			result.Errors = append(result.Errors, err.Error())
			s.metrics.RecordIngestionError("country_batch_error")
			s.logger.Error(ctx, "[INGEST_BATCH_ERROR] Country batch failed", logging.Fields{
				"batch_size": len(batch),
				"first_code": batch[0].IdentityCode,
			}, err)
			continue
		}
		result.SuccessfulRecords += len(batch)
	}

	s.finish(ctx, "countries", result, startTime)
	return result, nil
}

// IngestCountrySeries aggregates the series per region and frame and upserts
// the rows in batches
func (s *IngestionService) IngestCountrySeries(ctx context.Context, features []models.Feature, series *models.TimeSeries, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Aggregating country series", logging.Fields{
		"features":   len(features),
		"frames":     series.Len(),
		"batch_size": batchSize,
		"stage":      "AGGREGATION",
	})

	if series.Len() == 0 {
		return nil, models.EmptyDatasetError("time series has no frames to aggregate")
	}

	rows, err := AggregateCountrySeries(ctx, features, series)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate country series: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.EmptyDatasetError("no samples fell inside any region")
	}

	result := &IngestionResult{TotalRecords: len(rows), Errors: make([]string, 0)}
	for _, batch := range batches(rows, batchSize) {
		if err := s.repo.UpsertCountrySeries(ctx, batch); err != nil {
			result.FailedRecords += len(batch)
			result.Errors = append(result.Errors, err.Error())
			s.metrics.RecordIngestionError("series_batch_error")
			s.logger.Error(ctx, "[INGEST_BATCH_ERROR] Country series batch failed", logging.Fields{
				"batch_size": len(batch),
				"first_code": batch[0].IdentityCode,
				"first_time": batch[0].Timestamp,
			}, err)
			continue
		}
		result.SuccessfulRecords += len(batch)
	}

	s.finish(ctx, "country_series", result, startTime)
	return result, nil
}

// IngestStations upserts the point dataset in batches
func (s *IngestionService) IngestStations(ctx context.Context, points []models.PointEntity, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	if len(points) == 0 {
		return nil, models.EmptyDatasetError("no stations to ingest")
	}

	result := &IngestionResult{TotalRecords: len(points), Errors: make([]string, 0)}
	for _, batch := range batches(points, batchSize) {
		if err := s.repo.UpsertStations(ctx, batch); err != nil {
			result.FailedRecords += len(batch)
			result.Errors = append(result.Errors, err.Error())
			s.metrics.RecordIngestionError("station_batch_error")
			s.logger.Error(ctx, "[INGEST_BATCH_ERROR] Station batch failed", logging.Fields{
				"batch_size": len(batch),
			}, err)
			continue
		}
		result.SuccessfulRecords += len(batch)
	}

	s.finish(ctx, "stations", result, startTime)
	return result, nil
}

func (s *IngestionService) finish(ctx context.Context, dataset string, result *IngestionResult, startTime time.Time) {
	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Ingestion completed", logging.Fields{
		"dataset":            dataset,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})
}

func batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
