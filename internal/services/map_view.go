package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	geojson "github.com/paulmach/go.geojson"

	"temperature-map/internal/datastore"
	"temperature-map/internal/models"
	"temperature-map/internal/playback"
	"temperature-map/internal/render"
	"temperature-map/internal/search"
	"temperature-map/internal/selection"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

var (
	ErrViewNotFound       = errors.New("view not found")
	ErrFeatureUnavailable = errors.New("feature unavailable")
	ErrRegionNotFound     = errors.New("region not found")
	ErrPointNotFound      = errors.New("point not found")
)

// User-facing status messages
const (
	MapFailedMessage    = "Failed to load map data"
	PointsFailedMessage = "Failed to load city data"
)

// MapView is one mounted map view. Every exported method runs under the
// view's mutex, so events of one view are handled strictly one at a time.
type MapView struct {
	id      string
	mu      sync.Mutex
	dataset *datastore.Dataset
	loadErr error
	mounted bool

	// Set once the view leaves its registry
	retired atomic.Bool

	bridge    *render.Bridge
	surface   *render.Recorder
	selection *selection.State
	playback  *playback.Controller
	heatKeys  render.KeySet

	hovered      string
	hoveredPoint *models.PointKey
	query        string
	classes      map[models.PointKey]search.Classification
	byCode       map[string]models.Feature

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewMapView creates a view over ds. loadErr is the error of the required
// load paths; when set the view only ever shows the failure.
func NewMapView(id string, ds *datastore.Dataset, loadErr error, bridge *render.Bridge, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MapView {
	if ds == nil {
		ds = &datastore.Dataset{}
	}

	v := &MapView{
		id:       id,
		dataset:  ds,
		loadErr:  loadErr,
		bridge:   bridge,
		surface:  render.NewRecorder(),
		heatKeys: make(render.KeySet),
		classes:  search.Classify("", ds.Points),
		byCode:   make(map[string]models.Feature, len(ds.Features)),
		logger:   logger,
		metrics:  metricsCollector,
	}
	for _, f := range ds.Features {
		if f.HasIdentity() {
			v.byCode[f.IdentityCode] = f
		}
	}

	v.selection = selection.New(v.present)

	var series *models.TimeSeries
	if loadErr == nil && ds.SeriesAvailable() {
		series = ds.Series
	}
	v.playback = playback.NewController(series, frameRenderer{v})
	return v
}

// ID returns the view id
func (v *MapView) ID() string {
	return v.id
}

// Mount draws the initial scene and, with a time series, its first frame
func (v *MapView) Mount(ctx context.Context) render.SceneState {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.mounted = true
	v.present()
	if v.loadErr == nil && v.dataset.SeriesAvailable() {
		v.startPlayback(ctx)
	}

	v.metrics.RecordViewEvent("mount")
	return v.surface.Snapshot()
}

// Refresh swaps in a newer snapshot of the shared dataset, as optional
// sources finish loading. Selection, hover and query are kept. A series that
// just became available starts at its first frame.
func (v *MapView) Refresh(ctx context.Context, ds *datastore.Dataset) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ds == nil || v.loadErr != nil {
		return
	}

	prev := v.dataset
	v.dataset = ds
	if ds.PointsAvailable() && !prev.PointsAvailable() {
		v.classes = search.Classify(v.query, ds.Points)
	}
	seriesArrived := ds.SeriesAvailable() && !prev.SeriesAvailable()
	if seriesArrived {
		v.heatKeys = make(render.KeySet)
		v.playback = playback.NewController(ds.Series, frameRenderer{v})
	}

	if !v.mounted {
		return
	}
	v.present()
	if seriesArrived {
		v.startPlayback(ctx)
	}
	v.metrics.RecordViewEvent("refresh")
}

// startPlayback must be called with mu held
func (v *MapView) startPlayback(ctx context.Context) {
	if err := v.playback.Start(); err != nil {
		v.logger.Warn(ctx, "[VIEW_PLAYBACK_ERROR] Playback did not start", logging.Fields{
			"view_id": v.id,
			"error":   err.Error(),
		})
	}
}

// retire marks the view as gone and reports whether this call did it
func (v *MapView) retire() bool {
	return v.retired.CompareAndSwap(false, true)
}

// Hover marks a region as hovered
func (v *MapView) Hover(code string) (render.SceneState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loadErr != nil {
		return render.SceneState{}, ErrFeatureUnavailable
	}
	if _, ok := v.byCode[code]; !ok {
		return render.SceneState{}, ErrRegionNotFound
	}

	v.hovered = code
	v.hoveredPoint = nil
	v.present()
	v.metrics.RecordViewEvent("hover")
	return v.surface.Snapshot(), nil
}

// HoverEnd clears the hovered region and point
func (v *MapView) HoverEnd() render.SceneState {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.hovered != "" || v.hoveredPoint != nil {
		v.hovered = ""
		v.hoveredPoint = nil
		v.present()
	}
	v.metrics.RecordViewEvent("hover_end")
	return v.surface.Snapshot()
}

// HoverPoint marks the point at key as hovered
func (v *MapView) HoverPoint(key models.PointKey) (render.SceneState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loadErr != nil || !v.dataset.PointsAvailable() {
		return render.SceneState{}, ErrFeatureUnavailable
	}

	found := false
	for _, p := range v.dataset.Points {
		if p.Key() == key {
			found = true
			break
		}
	}
	if !found {
		return render.SceneState{}, ErrPointNotFound
	}

	v.hoveredPoint = &key
	v.hovered = ""
	v.present()
	v.metrics.RecordViewEvent("hover_point")
	return v.surface.Snapshot(), nil
}

// Click toggles the selection of a region. Regions without data are ignored.
func (v *MapView) Click(code string) (selection.ToggleResult, render.SceneState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loadErr != nil {
		return selection.ToggleResult{}, render.SceneState{}, ErrFeatureUnavailable
	}
	f, ok := v.byCode[code]
	if !ok {
		return selection.ToggleResult{}, render.SceneState{}, ErrRegionNotFound
	}

	// A removed region loses its hover highlight in the same sync.
	if v.selection.Has(code) && v.hovered == code {
		v.hovered = ""
	}

	var value *float64
	if t, ok := v.dataset.Temperatures.Value(code); ok {
		value = &t
	}

	result := v.selection.Toggle(f.IdentityCode, f.DisplayName, value)
	v.metrics.RecordViewEvent("click")
	return result, v.surface.Snapshot(), nil
}

// Remove drops a region from the selection. Removing an absent code is a no-op.
func (v *MapView) Remove(code string) (bool, render.SceneState) {
	v.mu.Lock()
	defer v.mu.Unlock()

	removed := v.selection.Remove(code)
	v.metrics.RecordViewEvent("remove")
	return removed, v.surface.Snapshot()
}

// SetIndex moves the time slider
func (v *MapView) SetIndex(i int) (bool, render.SceneState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loadErr != nil || !v.dataset.SeriesAvailable() {
		return false, render.SceneState{}, ErrFeatureUnavailable
	}

	changed, err := v.playback.SetIndex(i)
	if err != nil {
		return false, render.SceneState{}, err
	}
	v.metrics.RecordViewEvent("set_index")
	return changed, v.surface.Snapshot(), nil
}

// Search reclassifies every point against query
func (v *MapView) Search(query string) (render.SceneState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loadErr != nil || !v.dataset.PointsAvailable() {
		return render.SceneState{}, ErrFeatureUnavailable
	}

	v.query = query
	v.classes = search.Classify(query, v.dataset.Points)
	v.present()
	v.metrics.RecordViewEvent("search")
	return v.surface.Snapshot(), nil
}

// Scene returns the current scene
func (v *MapView) Scene() render.SceneState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.surface.Snapshot()
}

// Selection returns the pinned regions in insertion order
func (v *MapView) Selection() []models.SelectionEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selection.Snapshot()
}

// Geometry returns the region outlines with their code and name
func (v *MapView) Geometry() (*geojson.FeatureCollection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loadErr != nil {
		return nil, ErrFeatureUnavailable
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range v.dataset.Features {
		if f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.SetProperty("code", f.IdentityCode)
		gf.SetProperty("name", f.DisplayName)
		fc.AddFeature(gf)
	}
	return fc, nil
}

// present composes the non-heat layers and sends them to the surface
func (v *MapView) present() {
	snap := render.Snapshot{
		Playback: v.playbackView(),
		Status:   v.status(),
	}
	if v.loadErr == nil {
		snap.Features = v.dataset.Features
		snap.Temperatures = v.dataset.Temperatures
		snap.Selection = v.selection.Snapshot()
		snap.Hovered = v.hovered
		snap.Points = v.dataset.Points
		snap.Classes = v.classes
		snap.HoveredPoint = v.hoveredPoint
	}
	v.bridge.Present(v.surface, v.bridge.Compose(snap))
}

func (v *MapView) playbackView() render.PlaybackView {
	if v.loadErr != nil {
		return render.PlaybackView{}
	}
	if v.dataset.SeriesErr != nil {
		return render.PlaybackView{Label: render.FailedTemperatureLabel}
	}
	if !v.dataset.SeriesAvailable() {
		return render.PlaybackView{}
	}

	state := v.playback.State()
	return render.PlaybackView{
		Enabled: true,
		Index:   state.CurrentIndex,
		Total:   state.TotalFrames,
		Label:   v.playback.Timestamp(),
	}
}

func (v *MapView) status() render.Status {
	if v.loadErr != nil {
		return render.Status{
			Map:      render.FeatureFailed,
			Playback: render.FeatureDisabled,
			Search:   render.FeatureDisabled,
			Messages: []string{MapFailedMessage},
		}
	}

	s := render.Status{
		Map:      render.FeatureReady,
		Playback: render.FeatureReady,
		Search:   render.FeatureReady,
	}

	switch {
	case v.dataset.SeriesErr != nil:
		s.Playback = render.FeatureFailed
		s.Messages = append(s.Messages, render.FailedTemperatureLabel)
	case v.dataset.SeriesPending:
		s.Playback = render.FeatureLoading
	case !v.dataset.SeriesAvailable():
		s.Playback = render.FeatureDisabled
	}

	switch {
	case v.dataset.PointsErr != nil:
		s.Search = render.FeatureFailed
		s.Messages = append(s.Messages, PointsFailedMessage)
	case v.dataset.PointsPending:
		s.Search = render.FeatureLoading
	case !v.dataset.PointsAvailable():
		s.Search = render.FeatureDisabled
	}

	return s
}

// frameRenderer draws playback frames on the view's heat layer
type frameRenderer struct {
	view *MapView
}

func (r frameRenderer) RenderFrame(_ int, _ string, samples []models.Sample) {
	v := r.view
	timer := v.metrics.NewTimer(v.metrics.FrameRenderDuration)
	defer timer.ObserveDuration()

	update, keys := render.Reconcile(v.heatKeys, v.bridge.HeatCells(samples))
	v.heatKeys = keys
	v.bridge.PresentHeatmap(v.surface, update, v.playbackView())
}
