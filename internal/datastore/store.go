package datastore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"temperature-map/internal/geo"
	"temperature-map/internal/models"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// Source names used in errors, logs and metrics
const (
	SourceGeometry     = "geometry"
	SourceTemperatures = "temperatures"
	SourcePoints       = "points"
	SourceTimeSeries   = "time_series"
)

// DatabaseSource as a source location reads the dataset from the Catalog
const DatabaseSource = "db"

// Sources holds the locations of every dataset. Geometry is required;
// Temperatures is required when set; Points and TimeSeries are optional.
type Sources struct {
	Geometry        string
	GeometryObject  string
	Temperatures    string
	Points          string
	TimeSeries      string
	TimeSeriesEntry string
}

// Catalog provides datasets persisted by the ingester
type Catalog interface {
	ListCountryTemperatures(ctx context.Context) ([]models.CountryTemperature, error)
	ListStations(ctx context.Context) ([]models.PointEntity, error)
}

// Dataset is a read-only snapshot of the map's data, shared by every view.
// Optional sources still loading are marked pending; their results arrive in
// a later snapshot.
type Dataset struct {
	Features     []models.Feature
	Temperatures models.TemperatureSample
	Points       []models.PointEntity
	Series       *models.TimeSeries

	// Optional paths still in flight
	PointsPending bool
	SeriesPending bool

	// Optional path failures; the dependent control is inert when set.
	PointsErr error
	SeriesErr error

	// Identity codes produced by more than one raw feature
	Collisions     []string
	RejectedPoints int
}

// PointsAvailable reports whether the point dataset loaded
func (d *Dataset) PointsAvailable() bool {
	return !d.PointsPending && d.PointsErr == nil && len(d.Points) > 0
}

// SeriesAvailable reports whether the time series loaded with at least one frame
func (d *Dataset) SeriesAvailable() bool {
	return !d.SeriesPending && d.SeriesErr == nil && d.Series.Len() > 0
}

// Store loads every configured source once. The required paths (geometry and
// temperatures) gate Load; the optional paths (points and time series) finish
// on their own and are delivered to subscribers as new snapshots.
type Store struct {
	sources Sources
	fetcher Fetcher
	catalog Catalog
	index   geo.Index
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	once     sync.Once
	required chan struct{}
	settled  chan struct{}

	// notifyMu orders snapshot delivery; mu guards the fields below it.
	notifyMu    sync.Mutex
	mu          sync.Mutex
	state       Dataset
	ready       bool
	err         error
	subscribers []func(*Dataset)
}

// NewStore creates a store. catalog may be nil when no source uses the database.
func NewStore(sources Sources, fetcher Fetcher, catalog Catalog, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Store {
	if sources.TimeSeriesEntry == "" {
		sources.TimeSeriesEntry = DefaultSeriesEntry
	}
	return &Store{
		sources:  sources,
		fetcher:  fetcher,
		catalog:  catalog,
		index:    geo.DefaultIndex(),
		logger:   logger,
		metrics:  metricsCollector,
		required: make(chan struct{}),
		settled:  make(chan struct{}),
	}
}

// Load fetches and decodes all sources. Every path starts at once. Load
// returns as soon as the required paths finish; any failure among them fails
// the load. Optional paths keep running and record their result on later
// snapshots. Only the first call loads; later calls return the current snapshot.
func (s *Store) Load(ctx context.Context) (*Dataset, error) {
	s.once.Do(func() { s.load(ctx) })
	return s.snapshot()
}

// LoadAll is Load followed by waiting for the optional paths
func (s *Store) LoadAll(ctx context.Context) (*Dataset, error) {
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	select {
	case <-s.settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.snapshot()
}

// Subscribe registers fn for every snapshot published after an optional path
// finishes. When the required paths have already loaded, fn is called once
// with the current snapshot before Subscribe returns. Deliveries are ordered.
func (s *Store) Subscribe(fn func(*Dataset)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	var current *Dataset
	if s.ready {
		current = s.copyState()
	}
	s.mu.Unlock()

	if current != nil {
		fn(current)
	}
}

func (s *Store) load(ctx context.Context) {
	defer close(s.required)

	if s.sources.Geometry == "" {
		s.mu.Lock()
		s.err = models.WithSource(models.DecodeError(fmt.Errorf("no geometry source configured")), SourceGeometry)
		s.mu.Unlock()
		close(s.settled)
		return
	}

	start := time.Now()
	s.state.PointsPending = s.sources.Points != ""
	s.state.SeriesPending = s.sources.TimeSeries != ""

	// Optional paths outlive the caller's cancellation but keep its deadline.
	optCtx, cancelOptional := detach(ctx)
	var optional sync.WaitGroup
	if s.sources.Points != "" {
		optional.Add(1)
		go func() {
			defer optional.Done()
			var points []models.PointEntity
			var rejected int
			err := s.observe(optCtx, SourcePoints, s.sources.Points, func() error {
				var err error
				points, rejected, err = s.loadPoints(optCtx)
				return err
			})
			s.publish(func(ds *Dataset) {
				ds.Points, ds.RejectedPoints, ds.PointsErr, ds.PointsPending = points, rejected, err, false
			})
		}()
	}
	if s.sources.TimeSeries != "" {
		optional.Add(1)
		go func() {
			defer optional.Done()
			var series *models.TimeSeries
			err := s.observe(optCtx, SourceTimeSeries, s.sources.TimeSeries, func() error {
				var err error
				series, err = s.loadTimeSeries(optCtx)
				return err
			})
			s.publish(func(ds *Dataset) {
				ds.Series, ds.SeriesErr, ds.SeriesPending = series, err, false
			})
		}()
	}
	go func() {
		optional.Wait()
		<-s.required
		cancelOptional()
		s.logSettled(ctx, start)
		close(s.settled)
	}()

	var (
		features   []models.Feature
		collisions []string
		temps      models.TemperatureSample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.observe(gctx, SourceGeometry, s.sources.Geometry, func() error {
			var err error
			features, collisions, err = s.loadGeometry(gctx)
			return err
		})
	})
	if s.sources.Temperatures != "" {
		g.Go(func() error {
			return s.observe(gctx, SourceTemperatures, s.sources.Temperatures, func() error {
				var err error
				temps, err = s.loadTemperatures(gctx)
				return err
			})
		})
	}

	if err := g.Wait(); err != nil {
		cancelOptional()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return
	}

	for _, code := range collisions {
		s.logger.Warn(ctx, "[GEO_COLLISION] Identity code produced by multiple features, last one wins", logging.Fields{
			"code": code,
		})
	}

	s.mu.Lock()
	s.state.Features, s.state.Collisions, s.state.Temperatures = features, collisions, temps
	s.ready = true
	s.mu.Unlock()

	s.logger.Info(ctx, "[LOAD_REQUIRED_COMPLETE] Base map loaded", logging.Fields{
		"features":     len(features),
		"temperatures": len(temps),
		"duration_ms":  time.Since(start).Milliseconds(),
	})
}

// publish applies an optional path's result and, once the required paths
// loaded, hands the new snapshot to every subscriber
func (s *Store) publish(apply func(*Dataset)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	apply(&s.state)
	if !s.ready {
		s.mu.Unlock()
		return
	}
	snap := s.copyState()
	subscribers := append(([]func(*Dataset))(nil), s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(snap)
	}
}

func (s *Store) snapshot() (*Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.copyState(), nil
}

// copyState must be called with mu held
func (s *Store) copyState() *Dataset {
	ds := s.state
	return &ds
}

func (s *Store) logSettled(ctx context.Context, start time.Time) {
	ds, err := s.snapshot()
	if err != nil {
		return
	}
	s.logger.Info(ctx, "[LOAD_COMPLETE] Datasets loaded", logging.Fields{
		"features":        len(ds.Features),
		"temperatures":    len(ds.Temperatures),
		"points":          len(ds.Points),
		"rejected_points": ds.RejectedPoints,
		"frames":          ds.Series.Len(),
		"points_ok":       ds.PointsErr == nil,
		"series_ok":       ds.SeriesErr == nil,
		"duration_ms":     time.Since(start).Milliseconds(),
	})
}

// detach returns a context that ignores the parent's cancellation but keeps its deadline
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

// observe runs one load path, attaches the source to its error, records
// metrics and logs the failure once.
func (s *Store) observe(ctx context.Context, source, location string, fn func() error) error {
	timer := s.metrics.NewTimer(s.metrics.LoadDuration.WithLabelValues(source))
	err := models.WithSource(fn(), source)
	duration := timer.ObserveDuration()

	if err == nil {
		s.logger.Debug(ctx, "[LOAD] Source loaded", logging.Fields{
			"source":      source,
			"location":    location,
			"duration_ms": duration.Milliseconds(),
		})
		return nil
	}

	kind := models.KindOf(err)
	s.metrics.RecordLoadError(source, string(kind))

	fields := logging.Fields{
		"source":   source,
		"location": location,
		"kind":     string(kind),
	}
	if source == SourceGeometry || source == SourceTemperatures {
		s.logger.Error(ctx, "[LOAD_ERROR] Required source failed", fields, err)
	} else {
		fields["error"] = err.Error()
		s.logger.Warn(ctx, "[LOAD_DEGRADED] Optional source failed, dependent control disabled", fields)
	}
	return err
}

func (s *Store) fetch(ctx context.Context, location string) ([]byte, error) {
	data, err := s.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, models.NetworkError(err)
	}
	return data, nil
}

func (s *Store) loadGeometry(ctx context.Context) ([]models.Feature, []string, error) {
	data, err := s.fetch(ctx, s.sources.Geometry)
	if err != nil {
		return nil, nil, err
	}

	raw, err := geo.DecodeFeatures(data, s.sources.GeometryObject)
	if err != nil {
		return nil, nil, models.DecodeError(err)
	}

	built := s.index.BuildFeatures(raw)
	if len(built.Features) == 0 {
		return nil, nil, models.EmptyDatasetError("geometry has no features")
	}
	return built.Features, built.Collisions, nil
}

func (s *Store) loadTemperatures(ctx context.Context) (models.TemperatureSample, error) {
	if isDatabase(s.sources.Temperatures) {
		if s.catalog == nil {
			return nil, models.NetworkError(fmt.Errorf("temperature source is %q but no database is configured", DatabaseSource))
		}
		rows, err := s.catalog.ListCountryTemperatures(ctx)
		if err != nil {
			return nil, models.NetworkError(err)
		}
		sample := make(models.TemperatureSample, len(rows))
		for _, row := range rows {
			code := strings.ToUpper(strings.TrimSpace(row.IdentityCode))
			if code == "" || code == models.SentinelCode {
				continue
			}
			sample[code] = row.TemperatureCelsius
		}
		if len(sample) == 0 {
			return nil, models.EmptyDatasetError("no country temperatures stored")
		}
		return sample, nil
	}

	data, err := s.fetch(ctx, s.sources.Temperatures)
	if err != nil {
		return nil, err
	}
	return DecodeTemperatures(data)
}

func (s *Store) loadPoints(ctx context.Context) ([]models.PointEntity, int, error) {
	if isDatabase(s.sources.Points) {
		if s.catalog == nil {
			return nil, 0, models.NetworkError(fmt.Errorf("point source is %q but no database is configured", DatabaseSource))
		}
		points, err := s.catalog.ListStations(ctx)
		if err != nil {
			return nil, 0, models.NetworkError(err)
		}
		if len(points) == 0 {
			return nil, 0, models.EmptyDatasetError("no stations stored")
		}
		return points, 0, nil
	}

	data, err := s.fetch(ctx, s.sources.Points)
	if err != nil {
		return nil, 0, err
	}
	result, err := DecodePoints(data)
	if err != nil {
		return nil, 0, err
	}
	for _, rejected := range result.Rejected {
		s.logger.Debug(ctx, "[POINT_REJECTED] Skipping invalid point record", logging.Fields{
			"reason": rejected.Error(),
		})
	}
	return result.Points, len(result.Rejected), nil
}

func (s *Store) loadTimeSeries(ctx context.Context) (*models.TimeSeries, error) {
	data, err := s.fetch(ctx, s.sources.TimeSeries)
	if err != nil {
		return nil, err
	}
	return DecodeTimeSeriesArchive(data, s.sources.TimeSeriesEntry)
}

func isDatabase(location string) bool {
	return strings.EqualFold(strings.TrimSpace(location), DatabaseSource)
}
