package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temperature-map/internal/models"
	"temperature-map/internal/repository"
	"temperature-map/internal/services"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

type stubRepository struct {
	countries []models.CountryTemperature
	stations  []models.PointEntity
	series    []models.CountryFrameTemperature
	err       error
}

func (r *stubRepository) UpsertCountryTemperatures(context.Context, []models.CountryTemperature) error {
	return nil
}

func (r *stubRepository) ListCountryTemperatures(context.Context) ([]models.CountryTemperature, error) {
	return r.countries, r.err
}

func (r *stubRepository) GetCountryTemperature(_ context.Context, code string) (*models.CountryTemperature, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i := range r.countries {
		if r.countries[i].IdentityCode == code {
			return &r.countries[i], nil
		}
	}
	return nil, &repository.NotFoundError{Resource: "country_temperature", ID: code}
}

func (r *stubRepository) UpsertCountrySeries(context.Context, []models.CountryFrameTemperature) error {
	return nil
}

func (r *stubRepository) ListCountrySeries(_ context.Context, code string) ([]models.CountryFrameTemperature, error) {
	var rows []models.CountryFrameTemperature
	for _, row := range r.series {
		if row.IdentityCode == code {
			rows = append(rows, row)
		}
	}
	return rows, r.err
}

func (r *stubRepository) UpsertStations(context.Context, []models.PointEntity) error {
	return nil
}

func (r *stubRepository) ListStations(context.Context) ([]models.PointEntity, error) {
	return r.stations, r.err
}

func (r *stubRepository) HealthCheck(context.Context) error {
	return r.err
}

func newCatalogRouter(repo repository.TemperatureRepository) *mux.Router {
	logger := logging.NewStructuredLogger("temperature-map", "test", logging.InfoLevel)
	logger.SetOutput(io.Discard)
	m := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())

	r := mux.NewRouter()
	NewCatalogHandler(services.NewCatalogService(repo, logger, m), logger, m).RegisterRoutes(r)
	return r
}

func TestCatalogHandler(t *testing.T) {
	repo := &stubRepository{
		countries: []models.CountryTemperature{
			{IdentityCode: "CAN", DisplayName: "Canada", TemperatureCelsius: -3.4, SampleCount: 12},
			{IdentityCode: "USA", DisplayName: "United States", TemperatureCelsius: 15.2, SampleCount: 30},
		},
		stations: []models.PointEntity{
			{Name: "Paris", Lat: 48.85, Lon: 2.35},
			{Name: "Berlin", Lat: 52.52, Lon: 13.4},
		},
		series: []models.CountryFrameTemperature{
			{IdentityCode: "CAN", Timestamp: "2025-01", TemperatureCelsius: -12.5, SampleCount: 9},
			{IdentityCode: "CAN", Timestamp: "2025-02", TemperatureCelsius: -10, SampleCount: 9},
		},
	}
	router := newCatalogRouter(repo)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{
			name:       "countries page",
			path:       "/api/catalog/countries?page=2&limit=1",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp struct {
					Data       []models.CountryTemperature `json:"data"`
					Total      int                         `json:"total"`
					Page       int                         `json:"page"`
					TotalPages int                         `json:"total_pages"`
				}
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 2, resp.Total)
				assert.Equal(t, 2, resp.Page)
				assert.Equal(t, 2, resp.TotalPages)
				require.Len(t, resp.Data, 1)
				assert.Equal(t, "USA", resp.Data[0].IdentityCode)
			},
		},
		{
			name:       "invalid limit falls back to default",
			path:       "/api/catalog/countries?limit=5000",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp PaginatedResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 100, resp.Limit)
			},
		},
		{
			name:       "country by code",
			path:       "/api/catalog/countries/can",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var country models.CountryTemperature
				require.NoError(t, json.Unmarshal(body, &country))
				assert.Equal(t, "Canada", country.DisplayName)
				assert.Equal(t, 12, country.SampleCount)
			},
		},
		{
			name:       "unknown country",
			path:       "/api/catalog/countries/XXX",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "country series",
			path:       "/api/catalog/countries/can/series?from=2025-02",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var series services.CountrySeries
				require.NoError(t, json.Unmarshal(body, &series))
				assert.Equal(t, "CAN", series.Code)
				assert.Equal(t, []models.CountryFrameTemperature{
					{IdentityCode: "CAN", Timestamp: "2025-02", TemperatureCelsius: -10, SampleCount: 9},
				}, series.Frames)
			},
		},
		{
			name:       "unknown country series",
			path:       "/api/catalog/countries/USA/series",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "station search",
			path:       "/api/catalog/stations?q=ber",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp struct {
					Data  []models.PointEntity `json:"data"`
					Total int                  `json:"total"`
				}
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 1, resp.Total)
				require.Len(t, resp.Data, 1)
				assert.Equal(t, "Berlin", resp.Data[0].Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, rec.Body.Bytes())
			}
		})
	}
}

func TestCatalogHandler_RepositoryError(t *testing.T) {
	router := newCatalogRouter(&stubRepository{err: errors.New("connection refused")})

	for _, path := range []string{
		"/api/catalog/countries",
		"/api/catalog/countries/USA",
		"/api/catalog/countries/USA/series",
		"/api/catalog/stations",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	}
}
