package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temperature-map/internal/datastore"
	"temperature-map/internal/models"
	"temperature-map/internal/playback"
	"temperature-map/internal/render"
	"temperature-map/internal/search"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

func newTestLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("temperature-map", "test", logging.DebugLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMetrics() *metrics.Collector {
	return metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func square(minLon, minLat, maxLon, maxLat float64) *geojson.Geometry {
	return geojson.NewPolygonGeometry([][][]float64{{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}})
}

func testBridge(t *testing.T) *render.Bridge {
	t.Helper()
	region, err := render.NewSequential(-10, 30, render.DefaultPalette)
	require.NoError(t, err)
	heat, err := render.NewSequential(230, 310, render.DefaultPalette)
	require.NoError(t, err)
	points, err := render.NewSequential(-30, 35, render.DefaultPalette)
	require.NoError(t, err)

	return render.NewBridge(render.Config{
		Projector:   render.Equirectangular{Width: 960, Height: 540},
		RegionScale: region,
		HeatScale:   heat,
		PointScale:  points,
	})
}

var (
	paris  = models.PointEntity{Name: "Paris", Lat: 48.85, Lon: 2.35, Elevation: 35, QuartilesKelvin: [4]float64{278, 283, 290, 295}}
	berlin = models.PointEntity{Name: "Berlin", Lat: 52.52, Lon: 13.4, Elevation: 34, QuartilesKelvin: [4]float64{274, 280, 288, 293}}
)

func testDataset() *datastore.Dataset {
	return &datastore.Dataset{
		Features: []models.Feature{
			{IdentityCode: "USA", DisplayName: "United States", Geometry: square(-120, 30, -70, 48)},
			{IdentityCode: "CAN", DisplayName: "Canada", Geometry: square(-120, 49, -60, 70)},
			{IdentityCode: "ATA", DisplayName: "Antarctica", Geometry: square(-180, -90, 180, -65)},
		},
		Temperatures: models.TemperatureSample{"USA": 15.2, "CAN": -3.4},
		Points:       []models.PointEntity{paris, berlin},
		Series: models.NewTimeSeries(map[string][]models.Sample{
			"2025-02": {{Lon: 10, Lat: 10, Value: 300}, {Lon: 20, Lat: 20, Value: 295}},
			"2025-01": {{Lon: 0, Lat: 0, Value: 280}, {Lon: 10, Lat: 10, Value: 290}},
		}),
	}
}

func newTestView(t *testing.T, ds *datastore.Dataset, loadErr error) *MapView {
	t.Helper()
	return NewMapView("view-1", ds, loadErr, testBridge(t), newTestLogger(), newTestMetrics())
}

func regionState(scene render.SceneState, code string) render.RegionState {
	for _, r := range scene.Regions {
		if r.Code == code {
			return r.State
		}
	}
	return ""
}

func heatKeys(scene render.SceneState) []models.PointKey {
	keys := make([]models.PointKey, 0, len(scene.Heat))
	for _, c := range scene.Heat {
		keys = append(keys, c.Key)
	}
	return keys
}

func TestAggregateCountries(t *testing.T) {
	features := []models.Feature{
		{IdentityCode: "AAA", DisplayName: "Alpha", Geometry: square(0, 0, 10, 10)},
		{IdentityCode: "BBB", DisplayName: "Beta", Geometry: square(20, 0, 30, 10)},
		{IdentityCode: "CCC", DisplayName: "Gamma", Geometry: square(40, -1, 50, 61)},
		{IdentityCode: "", DisplayName: "Nameless", Geometry: square(0, 0, 10, 10)},
		{IdentityCode: "DDD", DisplayName: "Empty", Geometry: square(100, 0, 110, 10)},
	}
	series := models.NewTimeSeries(map[string][]models.Sample{
		"2025-01": {
			{Lon: 5, Lat: 5, Value: 283.15},
			{Lon: 25, Lat: 5, Value: 273.15},
			{Lon: 45, Lat: 0, Value: 300},
			{Lon: 150, Lat: 50, Value: 250},
		},
		"2025-02": {
			{Lon: 5, Lat: 5, Value: 293.15},
			{Lon: 45, Lat: 60, Value: 270},
		},
	})

	got, err := AggregateCountries(context.Background(), features, series)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "AAA", got[0].IdentityCode)
	assert.InDelta(t, 15.0, got[0].TemperatureCelsius, 1e-9)
	assert.Equal(t, 2, got[0].SampleCount)

	assert.Equal(t, "BBB", got[1].IdentityCode)
	assert.InDelta(t, 0.0, got[1].TemperatureCelsius, 1e-9)
	assert.Equal(t, 1, got[1].SampleCount)

	// cos(60°) halves the weight of the northern sample
	assert.Equal(t, "CCC", got[2].IdentityCode)
	assert.InDelta(t, 16.85, got[2].TemperatureCelsius, 1e-9)
}

func TestAggregateCountries_NormalizesLongitude(t *testing.T) {
	features := []models.Feature{
		{IdentityCode: "WST", DisplayName: "West", Geometry: square(-20, 0, -10, 10)},
	}
	series := models.NewTimeSeries(map[string][]models.Sample{
		"2025-01": {{Lon: 345, Lat: 5, Value: 273.15}},
	})

	got, err := AggregateCountries(context.Background(), features, series)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WST", got[0].IdentityCode)
}

func TestAggregateCountries_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AggregateCountries(ctx, testDataset().Features, testDataset().Series)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregateCountrySeries(t *testing.T) {
	features := []models.Feature{
		{IdentityCode: "BBB", DisplayName: "Beta", Geometry: square(20, 0, 30, 10)},
		{IdentityCode: "AAA", DisplayName: "Alpha", Geometry: square(0, 0, 10, 10)},
		{IdentityCode: "CCC", DisplayName: "Gamma", Geometry: square(40, -1, 50, 61)},
		{IdentityCode: "DDD", DisplayName: "Empty", Geometry: square(100, 0, 110, 10)},
	}
	series := models.NewTimeSeries(map[string][]models.Sample{
		"2025-01": {
			{Lon: 5, Lat: 5, Value: 283.15},
			{Lon: 6, Lat: 5, Value: 273.15},
			{Lon: 25, Lat: 5, Value: 273.15},
			{Lon: 45, Lat: 0, Value: 300},
			{Lon: 45, Lat: 60, Value: 270},
			{Lon: 150, Lat: 50, Value: 250},
		},
		"2025-02": {
			{Lon: 5, Lat: 5, Value: 293.15},
		},
	})

	got, err := AggregateCountrySeries(context.Background(), features, series)
	require.NoError(t, err)

	assert.Equal(t, []models.CountryFrameTemperature{
		{IdentityCode: "AAA", Timestamp: "2025-01", TemperatureCelsius: 5, SampleCount: 2},
		{IdentityCode: "AAA", Timestamp: "2025-02", TemperatureCelsius: 20, SampleCount: 1},
		{IdentityCode: "BBB", Timestamp: "2025-01", TemperatureCelsius: 0, SampleCount: 1},
		// cos(60°) halves the weight of the northern sample
		{IdentityCode: "CCC", Timestamp: "2025-01", TemperatureCelsius: 16.85, SampleCount: 2},
	}, got)
}

func TestAggregateCountrySeries_SingleFrameMatchesOverallMean(t *testing.T) {
	features := []models.Feature{
		{IdentityCode: "AAA", DisplayName: "Alpha", Geometry: square(0, 0, 10, 10)},
		{IdentityCode: "NTH", DisplayName: "North", Geometry: square(0, 40, 10, 70)},
	}
	series := models.NewTimeSeries(map[string][]models.Sample{
		"2025-01": {
			{Lon: 5, Lat: 5, Value: 281.4},
			{Lon: 5, Lat: 45, Value: 270.2},
			{Lon: 5, Lat: 65, Value: 262.9},
		},
	})

	overall, err := AggregateCountries(context.Background(), features, series)
	require.NoError(t, err)
	perFrame, err := AggregateCountrySeries(context.Background(), features, series)
	require.NoError(t, err)

	require.Len(t, perFrame, len(overall))
	for i := range overall {
		assert.Equal(t, overall[i].IdentityCode, perFrame[i].IdentityCode)
		assert.Equal(t, overall[i].TemperatureCelsius, perFrame[i].TemperatureCelsius)
		assert.Equal(t, overall[i].SampleCount, perFrame[i].SampleCount)
	}
}

func TestAggregateCountrySeries_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AggregateCountrySeries(ctx, testDataset().Features, testDataset().Series)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeRepository struct {
	countryBatches [][]models.CountryTemperature
	seriesBatches  [][]models.CountryFrameTemperature
	stationBatches [][]models.PointEntity
	failBatch      int
	calls          int
}

func (r *fakeRepository) fail() error {
	r.calls++
	if r.calls == r.failBatch {
		return errors.New("connection reset")
	}
	return nil
}

func (r *fakeRepository) UpsertCountryTemperatures(_ context.Context, temps []models.CountryTemperature) error {
	if err := r.fail(); err != nil {
		return err
	}
	r.countryBatches = append(r.countryBatches, temps)
	return nil
}

func (r *fakeRepository) ListCountryTemperatures(context.Context) ([]models.CountryTemperature, error) {
	return nil, nil
}

func (r *fakeRepository) GetCountryTemperature(context.Context, string) (*models.CountryTemperature, error) {
	return nil, nil
}

func (r *fakeRepository) UpsertCountrySeries(_ context.Context, rows []models.CountryFrameTemperature) error {
	if err := r.fail(); err != nil {
		return err
	}
	r.seriesBatches = append(r.seriesBatches, rows)
	return nil
}

func (r *fakeRepository) ListCountrySeries(context.Context, string) ([]models.CountryFrameTemperature, error) {
	return nil, nil
}

func (r *fakeRepository) UpsertStations(_ context.Context, stations []models.PointEntity) error {
	if err := r.fail(); err != nil {
		return err
	}
	r.stationBatches = append(r.stationBatches, stations)
	return nil
}

func (r *fakeRepository) ListStations(context.Context) ([]models.PointEntity, error) {
	return nil, nil
}

func (r *fakeRepository) HealthCheck(context.Context) error {
	return nil
}

func TestIngestionService_IngestCountries(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewIngestionService(repo, newTestLogger(), newTestMetrics())

	features := []models.Feature{
		{IdentityCode: "AAA", DisplayName: "Alpha", Geometry: square(0, 0, 10, 10)},
		{IdentityCode: "BBB", DisplayName: "Beta", Geometry: square(20, 0, 30, 10)},
	}
	series := models.NewTimeSeries(map[string][]models.Sample{
		"2025-01": {{Lon: 5, Lat: 5, Value: 280}, {Lon: 25, Lat: 5, Value: 290}},
	})

	result, err := svc.IngestCountries(context.Background(), features, series, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRecords)
	assert.Equal(t, 2, result.SuccessfulRecords)
	assert.Len(t, repo.countryBatches, 2)
}

func TestIngestionService_IngestCountrySeries(t *testing.T) {
	repo := &fakeRepository{failBatch: 2}
	m := newTestMetrics()
	svc := NewIngestionService(repo, newTestLogger(), m)

	features := []models.Feature{
		{IdentityCode: "AAA", DisplayName: "Alpha", Geometry: square(0, 0, 10, 10)},
		{IdentityCode: "BBB", DisplayName: "Beta", Geometry: square(20, 0, 30, 10)},
	}
	series := models.NewTimeSeries(map[string][]models.Sample{
		"2025-01": {{Lon: 5, Lat: 5, Value: 280}, {Lon: 25, Lat: 5, Value: 290}},
		"2025-02": {{Lon: 5, Lat: 5, Value: 281}},
	})

	result, err := svc.IngestCountrySeries(context.Background(), features, series, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalRecords)
	assert.Equal(t, 2, result.SuccessfulRecords)
	assert.Equal(t, 1, result.FailedRecords)
	require.Len(t, repo.seriesBatches, 1)
	assert.Equal(t, "AAA", repo.seriesBatches[0][0].IdentityCode)
	assert.Equal(t, "2025-01", repo.seriesBatches[0][0].Timestamp)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestionErrorsTotal.WithLabelValues("series_batch_error")))

	_, err = svc.IngestCountrySeries(context.Background(), features, models.NewTimeSeries(nil), 2)
	assert.True(t, models.IsKind(err, models.KindEmptyDataset))
}

func TestIngestionService_IngestCountriesEmpty(t *testing.T) {
	svc := NewIngestionService(&fakeRepository{}, newTestLogger(), newTestMetrics())

	_, err := svc.IngestCountries(context.Background(), nil, models.NewTimeSeries(nil), 10)
	assert.True(t, models.IsKind(err, models.KindEmptyDataset))
}

func TestIngestionService_IngestStationsPartialFailure(t *testing.T) {
	repo := &fakeRepository{failBatch: 2}
	m := newTestMetrics()
	svc := NewIngestionService(repo, newTestLogger(), m)

	points := []models.PointEntity{paris, berlin, paris, berlin, paris}
	result, err := svc.IngestStations(context.Background(), points, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalRecords)
	assert.Equal(t, 3, result.SuccessfulRecords)
	assert.Equal(t, 2, result.FailedRecords)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestionErrorsTotal.WithLabelValues("station_batch_error")))
}

func TestStatisticsService_Summarize(t *testing.T) {
	ds := testDataset()
	summary := NewStatisticsService().Summarize(ds)

	assert.Equal(t, 3, summary.Features)
	assert.Equal(t, 2, summary.FeaturesWithData)
	assert.Equal(t, 2, summary.Points)
	assert.Equal(t, 2, summary.Frames)
	assert.Equal(t, "2025-01", summary.FirstTimestamp)
	assert.Equal(t, "2025-02", summary.LastTimestamp)

	require.NotNil(t, summary.Temperature)
	assert.InDelta(t, 5.9, summary.Temperature.Mean, 1e-9)
	assert.Equal(t, -3.4, summary.Temperature.Min)
	assert.Equal(t, 15.2, summary.Temperature.Max)

	require.Len(t, summary.FrameTemperatures, 2)
	assert.InDelta(t, 285-273.15, summary.FrameTemperatures[0].Mean, 1e-9)
	assert.Empty(t, summary.Loading)

	ds.Series, ds.SeriesPending = nil, true
	summary = NewStatisticsService().Summarize(ds)
	assert.Equal(t, []string{datastore.SourceTimeSeries}, summary.Loading)
	assert.Empty(t, summary.FrameTemperatures)
}

func TestMapView_ClickTogglesSelection(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	view.Mount(context.Background())

	result, scene, err := view.Click("USA")
	require.NoError(t, err)
	assert.True(t, result.Added)
	assert.Equal(t, []models.SelectionEntry{
		{IdentityCode: "USA", DisplayName: "United States", Value: 15.2},
	}, view.Selection())
	assert.Equal(t, render.RegionSelected, regionState(scene, "USA"))
	require.Len(t, scene.Selection, 1)
	assert.Equal(t, "15.20 °C", scene.Selection[0].Label)

	result, scene, err = view.Click("USA")
	require.NoError(t, err)
	assert.False(t, result.Added)
	assert.True(t, result.Changed)
	assert.Empty(t, view.Selection())
	assert.Equal(t, render.RegionHasData, regionState(scene, "USA"))
}

func TestMapView_ClickWithoutData(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	before := view.Mount(context.Background())

	result, scene, err := view.Click("ATA")
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Empty(t, view.Selection())
	assert.Equal(t, before.Revision, scene.Revision)

	_, _, err = view.Click("XXX")
	assert.ErrorIs(t, err, ErrRegionNotFound)
}

func TestMapView_OneSyncPerMutation(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	mounted := view.Mount(context.Background())

	hovered, err := view.Hover("USA")
	require.NoError(t, err)
	presentCost := hovered.Revision - mounted.Revision
	require.NotZero(t, presentCost)
	assert.Equal(t, render.RegionHovered, regionState(hovered, "USA"))

	_, selected, err := view.Click("USA")
	require.NoError(t, err)
	assert.Equal(t, presentCost, selected.Revision-hovered.Revision)

	_, removed, err := view.Click("USA")
	require.NoError(t, err)
	assert.Equal(t, presentCost, removed.Revision-selected.Revision)
	assert.Equal(t, render.RegionHasData, regionState(removed, "USA"))
	assert.False(t, removed.Tooltip.Visible)
}

func TestMapView_RemoveIsIdempotent(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	view.Mount(context.Background())

	_, _, err := view.Click("CAN")
	require.NoError(t, err)

	removed, first := view.Remove("CAN")
	assert.True(t, removed)
	assert.Empty(t, first.Selection)

	removed, second := view.Remove("CAN")
	assert.False(t, removed)
	assert.Equal(t, first.Revision, second.Revision)
}

func TestMapView_HoverTooltip(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	view.Mount(context.Background())

	scene, err := view.Hover("USA")
	require.NoError(t, err)
	assert.Equal(t, render.Tooltip{Visible: true, Title: "United States", Lines: []string{"15.20 °C"}}, scene.Tooltip)

	scene, err = view.Hover("ATA")
	require.NoError(t, err)
	assert.Equal(t, []string{"Data unavailable"}, scene.Tooltip.Lines)

	scene = view.HoverEnd()
	assert.False(t, scene.Tooltip.Visible)

	scene, err = view.HoverPoint(paris.Key())
	require.NoError(t, err)
	assert.Equal(t, "Paris", scene.Tooltip.Title)

	_, err = view.HoverPoint(models.PointKey{Lon: 1, Lat: 1})
	assert.ErrorIs(t, err, ErrPointNotFound)
}

func TestMapView_Playback(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	scene := view.Mount(context.Background())

	assert.Equal(t, render.PlaybackView{Enabled: true, Index: 0, Total: 2, Label: "2025-01"}, scene.Playback)
	assert.Equal(t, []models.PointKey{{Lon: 0, Lat: 0}, {Lon: 10, Lat: 10}}, heatKeys(scene))

	changed, scene, err := view.SetIndex(1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "2025-02", scene.Playback.Label)
	assert.Equal(t, []models.PointKey{{Lon: 10, Lat: 10}, {Lon: 20, Lat: 20}}, heatKeys(scene))

	changed, clamped, err := view.SetIndex(7)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, scene.Revision, clamped.Revision)

	changed, scene, err = view.SetIndex(-4)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, scene.Playback.Index)
	assert.Equal(t, "2025-01", scene.Playback.Label)
}

func TestMapView_Search(t *testing.T) {
	view := newTestView(t, testDataset(), nil)
	view.Mount(context.Background())

	scene, err := view.Search("par")
	require.NoError(t, err)
	require.Len(t, scene.Markers, 2)
	assert.Equal(t, search.Matched, scene.Markers[0].Class)
	assert.Equal(t, search.Dimmed, scene.Markers[1].Class)

	scene, err = view.Search("  ")
	require.NoError(t, err)
	assert.Equal(t, search.Neutral, scene.Markers[0].Class)
	assert.Equal(t, search.Neutral, scene.Markers[1].Class)
}

func TestMapView_SeriesFailureDegrades(t *testing.T) {
	ds := testDataset()
	ds.Series = nil
	ds.SeriesErr = models.WithSource(models.DecodeError(errors.New("entry temperature_data.json not found")), datastore.SourceTimeSeries)

	view := newTestView(t, ds, nil)
	scene := view.Mount(context.Background())

	assert.Equal(t, render.FeatureReady, scene.Status.Map)
	assert.Equal(t, render.FeatureFailed, scene.Status.Playback)
	assert.False(t, scene.Playback.Enabled)
	assert.Equal(t, render.FailedTemperatureLabel, scene.Playback.Label)
	assert.Empty(t, scene.Heat)
	assert.Len(t, scene.Regions, 3)

	_, _, err := view.SetIndex(1)
	assert.ErrorIs(t, err, ErrFeatureUnavailable)

	result, _, err := view.Click("USA")
	require.NoError(t, err)
	assert.True(t, result.Added)
}

func TestMapView_PointsFailureDisablesSearch(t *testing.T) {
	ds := testDataset()
	ds.Points = nil
	ds.PointsErr = models.NetworkError(errors.New("status 503"))

	view := newTestView(t, ds, nil)
	scene := view.Mount(context.Background())

	assert.Equal(t, render.FeatureFailed, scene.Status.Search)
	assert.Contains(t, scene.Status.Messages, PointsFailedMessage)

	_, err := view.Search("par")
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
}

func TestMapView_FatalLoadError(t *testing.T) {
	loadErr := models.WithSource(models.NetworkError(errors.New("connection refused")), datastore.SourceGeometry)
	view := newTestView(t, nil, loadErr)
	scene := view.Mount(context.Background())

	assert.Equal(t, render.FeatureFailed, scene.Status.Map)
	assert.Equal(t, []string{MapFailedMessage}, scene.Status.Messages)
	assert.Empty(t, scene.Regions)
	assert.Empty(t, scene.Markers)

	_, _, err := view.Click("USA")
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
	_, err = view.Geometry()
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
}

func TestMapView_Geometry(t *testing.T) {
	view := newTestView(t, testDataset(), nil)

	fc, err := view.Geometry()
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "USA", fc.Features[0].Properties["code"])
	assert.Equal(t, "United States", fc.Features[0].Properties["name"])
}

func TestMapView_NoSeriesRejectsPlayback(t *testing.T) {
	ds := testDataset()
	ds.Series = nil

	view := newTestView(t, ds, nil)
	scene := view.Mount(context.Background())
	assert.Equal(t, render.FeatureDisabled, scene.Status.Playback)

	_, _, err := view.SetIndex(0)
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
	_, err = view.playback.SetIndex(0)
	assert.ErrorIs(t, err, playback.ErrNoFrames)
}

func TestViewRegistry(t *testing.T) {
	m := newTestMetrics()
	registry := NewViewRegistry(testDataset(), nil, testBridge(t), newTestLogger(), m, 2, 0)
	ctx := context.Background()

	first, scene, err := registry.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, render.FeatureReady, scene.Status.Map)
	assert.NotEmpty(t, first.ID())

	second, _, err := registry.Mount(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveViews))

	_, _, err = registry.Mount(ctx)
	assert.ErrorIs(t, err, ErrTooManyViews)

	// views do not share interaction state
	_, _, err = first.Click("USA")
	require.NoError(t, err)
	assert.Empty(t, second.Selection())

	got, err := registry.Get(first.ID())
	require.NoError(t, err)
	assert.Same(t, first, got)

	require.NoError(t, registry.Unmount(ctx, first.ID()))
	assert.ErrorIs(t, registry.Unmount(ctx, first.ID()), ErrViewNotFound)
	_, err = registry.Get(first.ID())
	assert.ErrorIs(t, err, ErrViewNotFound)
	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveViews))
}

func TestViewRegistry_IdleViewsExpire(t *testing.T) {
	m := newTestMetrics()
	registry := NewViewRegistry(testDataset(), nil, testBridge(t), newTestLogger(), m, 0, 150*time.Millisecond)
	ctx := context.Background()

	idle, _, err := registry.Mount(ctx)
	require.NoError(t, err)
	busy, _, err := registry.Mount(ctx)
	require.NoError(t, err)

	// Touching the busy view keeps restarting its timer
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err := registry.Get(busy.ID())
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	_, err = registry.Get(idle.ID())
	assert.ErrorIs(t, err, ErrViewNotFound)
	assert.ErrorIs(t, registry.Unmount(ctx, idle.ID()), ErrViewNotFound)

	assert.Eventually(t, func() bool {
		return registry.Count() == 1 && testutil.ToFloat64(m.ActiveViews) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewEventsTotal.WithLabelValues("expire")))

	got, err := registry.Get(busy.ID())
	require.NoError(t, err)
	assert.Same(t, busy, got)
}

func TestViewRegistry_UpdateRefreshesViews(t *testing.T) {
	full := testDataset()
	pending := testDataset()
	pending.Points, pending.PointsPending = nil, true
	pending.Series, pending.SeriesPending = nil, true

	registry := NewViewRegistry(pending, nil, testBridge(t), newTestLogger(), newTestMetrics(), 0, 0)
	ctx := context.Background()

	view, scene, err := registry.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, render.FeatureReady, scene.Status.Map)
	assert.Equal(t, render.FeatureLoading, scene.Status.Playback)
	assert.Equal(t, render.FeatureLoading, scene.Status.Search)
	assert.Empty(t, scene.Heat)

	_, err = view.Search("par")
	assert.ErrorIs(t, err, ErrFeatureUnavailable)

	// A selection made while loading survives the refresh
	_, _, err = view.Click("USA")
	require.NoError(t, err)

	registry.Update(ctx, full)

	scene = view.Scene()
	assert.Equal(t, render.FeatureReady, scene.Status.Playback)
	assert.Equal(t, render.FeatureReady, scene.Status.Search)
	assert.True(t, scene.Playback.Enabled)
	assert.Equal(t, 0, scene.Playback.Index)
	assert.Equal(t, "2025-01", scene.Playback.Label)
	assert.NotEmpty(t, scene.Heat)
	require.Len(t, view.Selection(), 1)
	assert.Equal(t, "USA", view.Selection()[0].IdentityCode)

	_, err = view.Search("par")
	assert.NoError(t, err)

	// Views mounted later start from the newest snapshot
	ds, loadErr := registry.Dataset()
	require.NoError(t, loadErr)
	assert.Same(t, full, ds)
	later, scene, err := registry.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, render.FeatureReady, scene.Status.Playback)
	assert.NotSame(t, view, later)
}

func TestMapView_RefreshWithFailedOptionalSource(t *testing.T) {
	pending := testDataset()
	pending.Series, pending.SeriesPending = nil, true
	view := newTestView(t, pending, nil)
	view.Mount(context.Background())

	failed := testDataset()
	failed.Series, failed.SeriesErr = nil, models.NetworkError(errors.New("timeout"))
	view.Refresh(context.Background(), failed)

	scene := view.Scene()
	assert.Equal(t, render.FeatureFailed, scene.Status.Playback)
	assert.Contains(t, scene.Status.Messages, render.FailedTemperatureLabel)
	assert.Equal(t, render.FailedTemperatureLabel, scene.Playback.Label)
}

func TestMapView_RefreshIgnoredAfterFatalLoadError(t *testing.T) {
	view := newTestView(t, nil, models.NetworkError(errors.New("refused")))
	view.Mount(context.Background())
	view.Refresh(context.Background(), testDataset())

	scene := view.Scene()
	assert.Equal(t, render.FeatureFailed, scene.Status.Map)
	_, err := view.Geometry()
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
}

func TestNewBridge(t *testing.T) {
	opts := BridgeOptions{Width: 960, Height: 540, HeatMin: 230, HeatMax: 310, PointMin: -30, PointMax: 35}

	bridge, err := NewBridge(opts, models.TemperatureSample{"USA": 15.2, "CAN": -3.4})
	require.NoError(t, err)
	frame := bridge.Compose(render.Snapshot{
		Temperatures: models.TemperatureSample{"USA": 15.2, "CAN": -3.4},
		Playback:     render.PlaybackView{Enabled: true},
	})
	require.NotNil(t, frame.Legend)
	assert.Equal(t, "-3.4°C", frame.Legend.Ticks[0].Label)
	assert.Equal(t, "15.2°C", frame.Legend.Ticks[4].Label)
	require.NotNil(t, frame.HeatLegend)

	// Regions default to Turbo; heat keeps the diverging palette
	assert.Equal(t, "#23171b", frame.Legend.Stops[0].Color)
	assert.Equal(t, "#900c00", frame.Legend.Stops[len(frame.Legend.Stops)-1].Color)
	assert.Equal(t, render.DefaultPalette[0], frame.HeatLegend.Stops[0].Color)

	custom := opts
	custom.RegionPalette = []string{"#000000", "#ffffff"}
	bridge, err = NewBridge(custom, models.TemperatureSample{"USA": 15.2, "CAN": -3.4})
	require.NoError(t, err)
	frame = bridge.Compose(render.Snapshot{Temperatures: models.TemperatureSample{"USA": 15.2, "CAN": -3.4}})
	require.NotNil(t, frame.Legend)
	assert.Equal(t, "#000000", frame.Legend.Stops[0].Color)

	_, err = NewBridge(opts, models.TemperatureSample{"USA": 15.2})
	assert.NoError(t, err)

	opts.HeatMin = 400
	_, err = NewBridge(opts, nil)
	assert.ErrorContains(t, err, "heat scale")

	opts.HeatMin = 230
	opts.Projection = "mercator"
	_, err = NewBridge(opts, nil)
	assert.Error(t, err)
}
