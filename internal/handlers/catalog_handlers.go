package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"temperature-map/internal/repository"
	"temperature-map/internal/services"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
	"temperature-map/pkg/responseformat"
)

// CatalogHandler serves the temperatures stored by the ingester
type CatalogHandler struct {
	catalogService *services.CatalogService
	formatter      *responseformat.Formatter
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(
	catalogService *services.CatalogService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
		formatter:      responseformat.NewFormatter(),
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// GetCountries handles GET /api/catalog/countries
func (h *CatalogHandler) GetCountries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/catalog/countries").Observe(duration.Seconds())
	}()

	page, limit := pagination(r)

	result, err := h.catalogService.GetCountries(ctx, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_COUNTRIES_ERROR] Failed to list countries", logging.Fields{
			"page":  page,
			"limit": limit,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/catalog/countries")
		h.sendError(w, r, "failed to retrieve countries", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/catalog/countries", "GET", "200")
	h.sendJSON(w, r, paginated(result.Items, result.Total, page, limit), http.StatusOK)
}

// GetCountry handles GET /api/catalog/countries/{code}
func (h *CatalogHandler) GetCountry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/catalog/countries/{code}").Observe(duration.Seconds())
	}()

	code := mux.Vars(r)["code"]
	country, err := h.catalogService.GetCountry(ctx, code)
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, "country not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error(ctx, "[API_GET_COUNTRY_ERROR] Failed to get country", logging.Fields{
			"code": code,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/catalog/countries/{code}")
		h.sendError(w, r, "failed to retrieve country", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/catalog/countries/{code}", "GET", "200")
	h.sendJSON(w, r, country, http.StatusOK)
}

// GetCountrySeries handles GET /api/catalog/countries/{code}/series
func (h *CatalogHandler) GetCountrySeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/catalog/countries/{code}/series").Observe(duration.Seconds())
	}()

	code := mux.Vars(r)["code"]
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	series, err := h.catalogService.GetCountrySeries(ctx, code, from, to)
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, "country series not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error(ctx, "[API_GET_COUNTRY_SERIES_ERROR] Failed to get country series", logging.Fields{
			"code": code,
			"from": from,
			"to":   to,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/catalog/countries/{code}/series")
		h.sendError(w, r, "failed to retrieve country series", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/catalog/countries/{code}/series", "GET", "200")
	h.sendJSON(w, r, series, http.StatusOK)
}

// GetStations handles GET /api/catalog/stations
func (h *CatalogHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/catalog/stations").Observe(duration.Seconds())
	}()

	page, limit := pagination(r)
	query := r.URL.Query().Get("q")

	result, err := h.catalogService.GetStations(ctx, query, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATIONS_ERROR] Failed to list stations", logging.Fields{
			"query": query,
			"page":  page,
			"limit": limit,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/catalog/stations")
		h.sendError(w, r, "failed to retrieve stations", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/catalog/stations", "GET", "200")
	h.sendJSON(w, r, paginated(result.Items, result.Total, page, limit), http.StatusOK)
}

// pagination reads page and limit, falling back to page 1 of 100
func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 100

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	return page, limit
}

func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

// sendJSON writes data as JSON, or msgpack when the client asks for it
func (h *CatalogHandler) sendJSON(w http.ResponseWriter, r *http.Request, data interface{}, statusCode int) {
	if err := h.formatter.WriteResponse(w, r, statusCode, data); err != nil {
		h.logger.Error(r.Context(), "[API_WRITE_ERROR] Failed to write response", logging.Fields{
			"path": r.URL.Path,
		}, err)
	}
}

// sendError sends an error response
func (h *CatalogHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, r, response, statusCode)
}

// RegisterRoutes registers the catalog API routes
func (h *CatalogHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/catalog/countries", h.GetCountries).Methods("GET")
	router.HandleFunc("/api/catalog/countries/{code}", h.GetCountry).Methods("GET")
	router.HandleFunc("/api/catalog/countries/{code}/series", h.GetCountrySeries).Methods("GET")
	router.HandleFunc("/api/catalog/stations", h.GetStations).Methods("GET")
}
