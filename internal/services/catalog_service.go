package services

import (
	"context"
	"strings"

	"temperature-map/internal/models"
	"temperature-map/internal/repository"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// CatalogService serves the temperatures persisted by the ingester
type CatalogService struct {
	repo    repository.TemperatureRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// Page is one slice of a listing
type Page[T any] struct {
	Items []T
	Total int
}

// NewCatalogService creates a new catalog service
func NewCatalogService(repo repository.TemperatureRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CatalogService {
	return &CatalogService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetCountries returns stored country temperatures, paged by code
func (s *CatalogService) GetCountries(ctx context.Context, limit, offset int) (Page[models.CountryTemperature], error) {
	temps, err := s.repo.ListCountryTemperatures(ctx)
	if err != nil {
		return Page[models.CountryTemperature]{}, err
	}
	return paginate(temps, limit, offset), nil
}

// GetCountry retrieves one stored country by identity code
func (s *CatalogService) GetCountry(ctx context.Context, code string) (*models.CountryTemperature, error) {
	return s.repo.GetCountryTemperature(ctx, strings.ToUpper(code))
}

// CountrySeries is one country's per-frame temperatures in timestamp order
type CountrySeries struct {
	Code   string                           `json:"code"`
	Frames []models.CountryFrameTemperature `json:"frames"`
}

// GetCountrySeries returns the stored frames of one country whose timestamps
// fall within [from, to]. Empty bounds are open. A country with no stored
// frames is a NotFoundError.
func (s *CatalogService) GetCountrySeries(ctx context.Context, code, from, to string) (*CountrySeries, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	rows, err := s.repo.ListCountrySeries(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &repository.NotFoundError{Resource: "country_series", ID: code}
	}

	frames := make([]models.CountryFrameTemperature, 0, len(rows))
	for _, row := range rows {
		if (from != "" && row.Timestamp < from) || (to != "" && row.Timestamp > to) {
			continue
		}
		frames = append(frames, row)
	}
	return &CountrySeries{Code: code, Frames: frames}, nil
}

// GetStations returns stored stations whose names match query. An empty query
// matches every station.
func (s *CatalogService) GetStations(ctx context.Context, query string, limit, offset int) (Page[models.PointEntity], error) {
	stations, err := s.repo.ListStations(ctx)
	if err != nil {
		return Page[models.PointEntity]{}, err
	}

	if needle := strings.ToLower(strings.TrimSpace(query)); needle != "" {
		matched := make([]models.PointEntity, 0, len(stations))
		for _, st := range stations {
			if strings.Contains(strings.ToLower(st.Name), needle) {
				matched = append(matched, st)
			}
		}
		s.logger.Debug(ctx, "[CATALOG_SEARCH] Filtered stations", logging.Fields{
			"query":   query,
			"matched": len(matched),
			"total":   len(stations),
		})
		stations = matched
	}

	return paginate(stations, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) Page[T] {
	page := Page[T]{Items: []T{}, Total: len(items)}
	if offset >= len(items) || limit <= 0 {
		return page
	}
	end := min(offset+limit, len(items))
	page.Items = items[offset:end]
	return page
}
