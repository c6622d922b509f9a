package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"temperature-map/internal/models"
	"temperature-map/internal/playback"
	"temperature-map/internal/render"
	"temperature-map/internal/services"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
	"temperature-map/pkg/responseformat"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// ViewHandler handles the map view API endpoints
type ViewHandler struct {
	registry     *services.ViewRegistry
	statsService *services.StatisticsService
	formatter    *responseformat.Formatter
	checks       map[string]HealthCheck
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewViewHandler creates a new view handler
func NewViewHandler(
	registry *services.ViewRegistry,
	statsService *services.StatisticsService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ViewHandler {
	return &ViewHandler{
		registry:     registry,
		statsService: statsService,
		formatter:    responseformat.NewFormatter(),
		checks:       make(map[string]HealthCheck),
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// AddHealthCheck registers a dependency reported by GET /health
func (h *ViewHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MountResponse is returned when a view is mounted
type MountResponse struct {
	ID    string            `json:"id"`
	Scene render.SceneState `json:"scene"`
}

// ClickResponse is returned by a region click
type ClickResponse struct {
	Added   bool              `json:"added"`
	Changed bool              `json:"changed"`
	Scene   render.SceneState `json:"scene"`
}

// RemoveResponse is returned by a selection dismissal
type RemoveResponse struct {
	Removed bool              `json:"removed"`
	Scene   render.SceneState `json:"scene"`
}

// PlaybackResponse is returned by a slider move
type PlaybackResponse struct {
	Changed bool              `json:"changed"`
	Scene   render.SceneState `json:"scene"`
}

type hoverRequest struct {
	Code string `json:"code"`
}

type pointRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type playbackRequest struct {
	Index *int `json:"index"`
}

type searchRequest struct {
	Query string `json:"query"`
}

// MountView handles POST /api/views
func (h *ViewHandler) MountView(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views"
	defer h.observe(endpoint)()
	ctx := r.Context()

	view, scene, err := h.registry.Mount(ctx)
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}

	h.send(w, r, endpoint, MountResponse{ID: view.ID(), Scene: scene}, http.StatusCreated)
}

// UnmountView handles DELETE /api/views/{id}
func (h *ViewHandler) UnmountView(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}"
	defer h.observe(endpoint)()

	if err := h.registry.Unmount(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "204")
	w.WriteHeader(http.StatusNoContent)
}

// GetScene handles GET /api/views/{id}/scene
func (h *ViewHandler) GetScene(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/scene"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}
	h.send(w, r, endpoint, view.Scene(), http.StatusOK)
}

// GetGeometry handles GET /api/views/{id}/geometry
func (h *ViewHandler) GetGeometry(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/geometry"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	fc, err := view.Geometry()
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	if err := h.formatter.WriteRawJSON(w, r, http.StatusOK, raw); err != nil {
		h.logger.Error(r.Context(), "[API_WRITE_ERROR] Failed to write response", logging.Fields{
			"endpoint": endpoint,
		}, err)
	}
}

// Hover handles POST /api/views/{id}/hover
func (h *ViewHandler) Hover(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/hover"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	var req hoverRequest
	if !h.decode(w, r, endpoint, &req) {
		return
	}
	if req.Code == "" {
		h.sendError(w, r, endpoint, "code is required", http.StatusBadRequest)
		return
	}

	scene, err := view.Hover(req.Code)
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.send(w, r, endpoint, scene, http.StatusOK)
}

// HoverEnd handles DELETE /api/views/{id}/hover
func (h *ViewHandler) HoverEnd(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/hover"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}
	h.send(w, r, endpoint, view.HoverEnd(), http.StatusOK)
}

// HoverPoint handles POST /api/views/{id}/points/hover
func (h *ViewHandler) HoverPoint(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/points/hover"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	var req pointRequest
	if !h.decode(w, r, endpoint, &req) {
		return
	}
	if req.Lat == nil || req.Lon == nil {
		h.sendError(w, r, endpoint, "lat and lon are required", http.StatusBadRequest)
		return
	}

	scene, err := view.HoverPoint(models.PointKey{Lon: *req.Lon, Lat: *req.Lat})
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.send(w, r, endpoint, scene, http.StatusOK)
}

// Click handles POST /api/views/{id}/click
func (h *ViewHandler) Click(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/click"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	var req hoverRequest
	if !h.decode(w, r, endpoint, &req) {
		return
	}
	if req.Code == "" {
		h.sendError(w, r, endpoint, "code is required", http.StatusBadRequest)
		return
	}

	result, scene, err := view.Click(req.Code)
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.send(w, r, endpoint, ClickResponse{Added: result.Added, Changed: result.Changed, Scene: scene}, http.StatusOK)
}

// RemoveSelection handles DELETE /api/views/{id}/selection/{code}
func (h *ViewHandler) RemoveSelection(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/selection/{code}"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	removed, scene := view.Remove(mux.Vars(r)["code"])
	h.send(w, r, endpoint, RemoveResponse{Removed: removed, Scene: scene}, http.StatusOK)
}

// SetPlayback handles PUT /api/views/{id}/playback
func (h *ViewHandler) SetPlayback(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/playback"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	var req playbackRequest
	if !h.decode(w, r, endpoint, &req) {
		return
	}
	if req.Index == nil {
		h.sendError(w, r, endpoint, "index is required", http.StatusBadRequest)
		return
	}

	changed, scene, err := view.SetIndex(*req.Index)
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.send(w, r, endpoint, PlaybackResponse{Changed: changed, Scene: scene}, http.StatusOK)
}

// Search handles PUT /api/views/{id}/search
func (h *ViewHandler) Search(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/views/{id}/search"
	defer h.observe(endpoint)()

	view, ok := h.view(w, r, endpoint)
	if !ok {
		return
	}

	var req searchRequest
	if !h.decode(w, r, endpoint, &req) {
		return
	}

	scene, err := view.Search(req.Query)
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.send(w, r, endpoint, scene, http.StatusOK)
}

// GetDataset handles GET /api/dataset
func (h *ViewHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/dataset"
	defer h.observe(endpoint)()

	ds, loadErr := h.registry.Dataset()
	if loadErr != nil {
		h.sendError(w, r, endpoint, services.MapFailedMessage, http.StatusServiceUnavailable)
		return
	}
	h.send(w, r, endpoint, h.statsService.Summarize(ds), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ViewHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"active_views": h.registry.Count(),
	}

	code := http.StatusOK
	if _, loadErr := h.registry.Dataset(); loadErr != nil {
		status["status"] = "degraded"
		status["dataset"] = loadErr.Error()
	}

	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	if len(deps) > 0 {
		status["dependencies"] = deps
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, r, status, code)
}

// RegisterRoutes registers all view API routes
func (h *ViewHandler) RegisterRoutes(router *mux.Router) {
	router.Use(RequestIDMiddleware)

	router.HandleFunc("/api/views", h.MountView).Methods("POST")
	router.HandleFunc("/api/views/{id}", h.UnmountView).Methods("DELETE")
	router.HandleFunc("/api/views/{id}/scene", h.GetScene).Methods("GET")
	router.HandleFunc("/api/views/{id}/geometry", h.GetGeometry).Methods("GET")
	router.HandleFunc("/api/views/{id}/hover", h.Hover).Methods("POST")
	router.HandleFunc("/api/views/{id}/hover", h.HoverEnd).Methods("DELETE")
	router.HandleFunc("/api/views/{id}/points/hover", h.HoverPoint).Methods("POST")
	router.HandleFunc("/api/views/{id}/click", h.Click).Methods("POST")
	router.HandleFunc("/api/views/{id}/selection/{code}", h.RemoveSelection).Methods("DELETE")
	router.HandleFunc("/api/views/{id}/playback", h.SetPlayback).Methods("PUT")
	router.HandleFunc("/api/views/{id}/search", h.Search).Methods("PUT")
	router.HandleFunc("/api/dataset", h.GetDataset).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// RequestIDMiddleware propagates or assigns a request id and stores it in the
// request context for logging
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (h *ViewHandler) observe(endpoint string) func() {
	timer := h.metrics.NewTimer(h.metrics.APIRequestDuration.WithLabelValues(endpoint))
	return func() { timer.ObserveDuration() }
}

func (h *ViewHandler) view(w http.ResponseWriter, r *http.Request, endpoint string) (*services.MapView, bool) {
	view, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return nil, false
	}
	return view, true
}

func (h *ViewHandler) decode(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.metrics.RecordAPIError("bad_request", endpoint)
		h.sendError(w, r, endpoint, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleError maps service errors to status codes
func (h *ViewHandler) handleError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	switch {
	case errors.Is(err, services.ErrViewNotFound):
		h.sendError(w, r, endpoint, "view not found", http.StatusNotFound)
	case errors.Is(err, services.ErrRegionNotFound):
		h.sendError(w, r, endpoint, "region not found", http.StatusNotFound)
	case errors.Is(err, services.ErrPointNotFound):
		h.sendError(w, r, endpoint, "point not found", http.StatusNotFound)
	case errors.Is(err, services.ErrFeatureUnavailable), errors.Is(err, playback.ErrNoFrames):
		h.metrics.RecordAPIError("feature_unavailable", endpoint)
		h.sendError(w, r, endpoint, "the data behind this control failed to load", http.StatusConflict)
	case errors.Is(err, services.ErrTooManyViews):
		h.metrics.RecordAPIError("capacity", endpoint)
		h.sendError(w, r, endpoint, "too many mounted views", http.StatusServiceUnavailable)
	default:
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
			"method":   r.Method,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, endpoint, "internal error", http.StatusInternalServerError)
	}
}

// send records the request and writes data in the requested format
func (h *ViewHandler) send(w http.ResponseWriter, r *http.Request, endpoint string, data interface{}, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))
	h.sendJSON(w, r, data, statusCode)
}

// sendJSON writes data as JSON, or msgpack when the client asks for it
func (h *ViewHandler) sendJSON(w http.ResponseWriter, r *http.Request, data interface{}, statusCode int) {
	if err := h.formatter.WriteResponse(w, r, statusCode, data); err != nil {
		h.logger.Error(r.Context(), "[API_WRITE_ERROR] Failed to write response", logging.Fields{
			"path": r.URL.Path,
		}, err)
	}
}

// sendError sends an error response
func (h *ViewHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, r, response, statusCode)
}
