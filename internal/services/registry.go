package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"temperature-map/internal/datastore"
	"temperature-map/internal/render"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// ErrTooManyViews is returned when the registry is full
var ErrTooManyViews = errors.New("too many mounted views")

// ViewRegistry owns the mounted views. The dataset is shared read-only
// between them; every view has its own interaction state. Views nobody has
// touched for the idle timeout are unmounted.
type ViewRegistry struct {
	// mu guards dataset and serializes mounts against the capacity check
	mu       sync.RWMutex
	views    *expirable.LRU[string, *MapView]
	maxViews int

	dataset *datastore.Dataset
	loadErr error
	bridge  *render.Bridge

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewViewRegistry creates a registry. maxViews <= 0 means unlimited and
// idleTimeout <= 0 keeps views until they are unmounted.
func NewViewRegistry(ds *datastore.Dataset, loadErr error, bridge *render.Bridge, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, maxViews int, idleTimeout time.Duration) *ViewRegistry {
	r := &ViewRegistry{
		maxViews: maxViews,
		dataset:  ds,
		loadErr:  loadErr,
		bridge:   bridge,
		logger:   logger,
		metrics:  metricsCollector,
	}
	r.views = expirable.NewLRU[string, *MapView](0, r.evicted, idleTimeout)
	return r
}

// evicted runs under the LRU's lock, so follow-up work that reads the LRU
// happens on its own goroutine
func (r *ViewRegistry) evicted(id string, view *MapView) {
	if !view.retire() {
		return
	}
	go func() {
		count := r.views.Len()
		r.metrics.ActiveViews.Set(float64(count))
		r.metrics.RecordViewEvent("expire")
		r.logger.Info(context.Background(), "[VIEW_EXPIRED] Idle view unmounted", logging.Fields{
			"view_id":      id,
			"active_views": count,
		})
	}()
}

// Mount creates a view, draws its first scene and registers it
func (r *ViewRegistry) Mount(ctx context.Context) (*MapView, render.SceneState, error) {
	r.mu.Lock()
	if r.maxViews > 0 && r.views.Len() >= r.maxViews {
		r.mu.Unlock()
		return nil, render.SceneState{}, ErrTooManyViews
	}
	view := NewMapView(uuid.NewString(), r.dataset, r.loadErr, r.bridge, r.logger, r.metrics)
	r.views.Add(view.ID(), view)
	count := r.views.Len()
	r.mu.Unlock()

	r.metrics.ActiveViews.Set(float64(count))
	scene := view.Mount(ctx)

	r.logger.Info(ctx, "[VIEW_MOUNT] View mounted", logging.Fields{
		"view_id":      view.ID(),
		"active_views": count,
		"map_status":   string(scene.Status.Map),
	})
	return view, scene, nil
}

// Get returns a mounted view and restarts its idle timer
func (r *ViewRegistry) Get(id string) (*MapView, error) {
	view, ok := r.views.Get(id)
	if !ok || view.retired.Load() {
		return nil, ErrViewNotFound
	}
	r.views.Add(id, view)
	return view, nil
}

// Unmount drops a view and its state
func (r *ViewRegistry) Unmount(ctx context.Context, id string) error {
	view, ok := r.views.Peek(id)
	if !ok || !view.retire() {
		return ErrViewNotFound
	}
	r.views.Remove(id)
	count := r.views.Len()

	r.metrics.ActiveViews.Set(float64(count))
	r.metrics.RecordViewEvent("unmount")
	r.logger.Info(ctx, "[VIEW_UNMOUNT] View unmounted", logging.Fields{
		"view_id":      id,
		"active_views": count,
	})
	return nil
}

// Update hands a newer dataset snapshot to every mounted view. Views mounted
// afterwards start from it.
func (r *ViewRegistry) Update(ctx context.Context, ds *datastore.Dataset) {
	if ds == nil {
		return
	}

	r.mu.Lock()
	r.dataset = ds
	views := r.views.Values()
	r.mu.Unlock()

	refreshed := 0
	for _, view := range views {
		// Values leaves zero entries for expired views
		if view == nil {
			continue
		}
		view.Refresh(ctx, ds)
		refreshed++
	}

	r.logger.Info(ctx, "[VIEW_REFRESH] Dataset updated", logging.Fields{
		"views":          refreshed,
		"points_pending": ds.PointsPending,
		"series_pending": ds.SeriesPending,
		"points_ok":      ds.PointsErr == nil,
		"series_ok":      ds.SeriesErr == nil,
	})
}

// Count returns the number of mounted views
func (r *ViewRegistry) Count() int {
	return r.views.Len()
}

// Dataset returns the current dataset snapshot and the required-path load error
func (r *ViewRegistry) Dataset() (*datastore.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dataset, r.loadErr
}
