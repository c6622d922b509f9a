package datastore

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temperature-map/internal/models"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

const testGeometry = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"iso_a3": "USA", "name": "United States"},
     "geometry": {"type": "Polygon", "coordinates": [[[-120,30],[-70,30],[-70,48],[-120,48],[-120,30]]]}},
    {"type": "Feature", "properties": {"iso_a3": "CAN", "name": "Canada"},
     "geometry": {"type": "Polygon", "coordinates": [[[-120,49],[-60,49],[-60,70],[-120,70],[-120,49]]]}}
  ]
}`

const testPoints = `[
  {"city": "Paris", "lat": 48.85, "lon": 2.35, "height": 35, "Q1": 278.1, "Q2": 283.4, "Q3": 290.2, "Q4": 295.0},
  {"city": "Berlin", "lat": 52.52, "lon": 13.4, "height": 34, "Q1": 274.0, "Q2": 280.0, "Q3": 288.0, "Q4": 293.0},
  {"city": "", "lat": 0, "lon": 0, "Q1": 1, "Q2": 1, "Q3": 1, "Q4": 1}
]`

const testSeries = `{
  "2025-02": [[10, 20, 280.5]],
  "2025-01": [[10, 20, 270.0], [11, 21, 290.0]]
}`

func newTestLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("temperature-map", "test", logging.DebugLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMetrics() *metrics.Collector {
	return metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type stubFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[location]++
	if err, ok := f.errs[location]; ok {
		return nil, err
	}
	data, ok := f.payloads[location]
	if !ok {
		return nil, fmt.Errorf("not found: %s", location)
	}
	return data, nil
}

type stubCatalog struct {
	temps    []models.CountryTemperature
	stations []models.PointEntity
	err      error
}

func (c *stubCatalog) ListCountryTemperatures(context.Context) ([]models.CountryTemperature, error) {
	return c.temps, c.err
}

func (c *stubCatalog) ListStations(context.Context) ([]models.PointEntity, error) {
	return c.stations, c.err
}

func TestDecodeTimeSeriesArchive(t *testing.T) {
	t.Run("decodes and sorts frames", func(t *testing.T) {
		data := buildArchive(t, map[string]string{DefaultSeriesEntry: testSeries})

		series, err := DecodeTimeSeriesArchive(data, DefaultSeriesEntry)
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-01", "2025-02"}, series.Timestamps())
		assert.Len(t, series.Frame(0), 2)
		assert.Equal(t, models.Sample{Lon: 10, Lat: 20, Value: 280.5}, series.Frame(1)[0])
	})

	t.Run("missing entry is a decode error", func(t *testing.T) {
		data := buildArchive(t, map[string]string{"other.json": testSeries})

		_, err := DecodeTimeSeriesArchive(data, DefaultSeriesEntry)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.KindDecode))
		assert.Contains(t, err.Error(), DefaultSeriesEntry)
	})

	t.Run("not an archive is a decode error", func(t *testing.T) {
		_, err := DecodeTimeSeriesArchive([]byte("plain text"), DefaultSeriesEntry)
		assert.True(t, models.IsKind(err, models.KindDecode))
	})

	t.Run("malformed entry is a decode error", func(t *testing.T) {
		data := buildArchive(t, map[string]string{DefaultSeriesEntry: `{"2025-01": [[1, 2]]}`})
		_, err := DecodeTimeSeriesArchive(data, DefaultSeriesEntry)
		assert.True(t, models.IsKind(err, models.KindDecode))
	})

	t.Run("zero timestamps is an empty dataset error", func(t *testing.T) {
		data := buildArchive(t, map[string]string{DefaultSeriesEntry: `{}`})
		_, err := DecodeTimeSeriesArchive(data, DefaultSeriesEntry)
		assert.True(t, models.IsKind(err, models.KindEmptyDataset))
	})
}

func TestDecodeTemperatures(t *testing.T) {
	sample, err := DecodeTemperatures([]byte(`{"usa": 15.2, "CAN": -3.4, "-99": 10}`))
	require.NoError(t, err)
	assert.Equal(t, models.TemperatureSample{"USA": 15.2, "CAN": -3.4}, sample)

	_, err = DecodeTemperatures([]byte(`{"-99": 1}`))
	assert.True(t, models.IsKind(err, models.KindEmptyDataset))

	_, err = DecodeTemperatures([]byte(`[1, 2]`))
	assert.True(t, models.IsKind(err, models.KindDecode))
}

func TestDecodePoints(t *testing.T) {
	result, err := DecodePoints([]byte(testPoints))
	require.NoError(t, err)
	require.Len(t, result.Points, 2)
	assert.Len(t, result.Rejected, 1)
	assert.Equal(t, "Paris", result.Points[0].Name)
	assert.InDelta(t, 5.0, result.Points[0].QuartilesCelsius()[0], 1e-9)

	_, err = DecodePoints([]byte(`[{"city": ""}]`))
	assert.True(t, models.IsKind(err, models.KindEmptyDataset))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("payload"))
		default:
			http.Error(w, "missing", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)

	data, err := f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcher_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := []byte(`{"USA": 15.2, "CAN": -3.4}`)
		if r.URL.Path == "/chunked" {
			// Flushing before the body forces chunked encoding without a Content-Length
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		path     string
		maxBytes int64
		wantErr  bool
	}{
		{"declared length over the limit", "/sized", 12, true},
		{"streamed body over the limit", "/chunked", 12, true},
		{"body exactly at the limit", "/chunked", 26, false},
		{"no limit", "/sized", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &HTTPFetcher{Client: srv.Client(), MaxBytes: tt.maxBytes}
			data, err := f.Fetch(context.Background(), srv.URL+tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPayloadTooLarge)
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, `{"USA": 15.2, "CAN": -3.4}`, string(data))
		})
	}
}

func TestRouter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temps.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"USA": 1}`), 0o644))

	object := newStubFetcher()
	object.payloads["s3://bucket/key.json"] = []byte("from-object")

	r := &Router{File: FileFetcher{}, Object: object}

	data, err := r.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, `{"USA": 1}`, string(data))

	data, err = r.Fetch(context.Background(), "s3://bucket/key.json")
	require.NoError(t, err)
	assert.Equal(t, "from-object", string(data))

	_, err = r.Fetch(context.Background(), "https://example.com/x.json")
	assert.Error(t, err)
}

func TestParseObjectLocation(t *testing.T) {
	bucket, key, err := ParseObjectLocation("s3://maps/archives/temperature_data.zip")
	require.NoError(t, err)
	assert.Equal(t, "maps", bucket)
	assert.Equal(t, "archives/temperature_data.zip", key)

	for _, bad := range []string{"maps/key", "s3://", "s3://bucket", "s3:///key"} {
		_, _, err := ParseObjectLocation(bad)
		assert.Error(t, err, bad)
	}
}

// sharedCache stands in for Redis: one instance survives several stores
type sharedCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newSharedCache() *sharedCache {
	return &sharedCache{items: make(map[string][]byte)}
}

func (c *sharedCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *sharedCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("data"), nil
}

func TestCachingFetcher(t *testing.T) {
	ctx := context.Background()
	m := newTestMetrics()

	next := &countingFetcher{}
	cache := newSharedCache()
	f := NewCachingFetcher(next, cache, newTestLogger(), m)

	for i := 0; i < 3; i++ {
		data, err := f.Fetch(ctx, "http://example/a")
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
	}
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PayloadCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PayloadCacheMisses))

	failing := &countingFetcher{err: errors.New("down")}
	f = NewCachingFetcher(failing, cache, newTestLogger(), m)
	_, err := f.Fetch(ctx, "http://example/b")
	require.Error(t, err)
	_, err = f.Fetch(ctx, "http://example/b")
	require.Error(t, err)
	assert.Equal(t, int32(2), failing.calls.Load(), "failures are not cached")
}

func TestCachingFetcher_RestartReadsFromCache(t *testing.T) {
	ctx := context.Background()
	cache := newSharedCache()

	origin := fullFetcher(t)
	first := NewStore(fullSources(), NewCachingFetcher(origin, cache, newTestLogger(), newTestMetrics()), nil, newTestLogger(), newTestMetrics())
	_, err := first.LoadAll(ctx)
	require.NoError(t, err)

	// A new process with a cold store and the same cache
	m := newTestMetrics()
	second := NewStore(fullSources(), NewCachingFetcher(origin, cache, newTestLogger(), m), nil, newTestLogger(), m)
	ds, err := second.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ds.Features, 2)
	assert.True(t, ds.SeriesAvailable())

	assert.Equal(t, 4.0, testutil.ToFloat64(m.PayloadCacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PayloadCacheMisses))
	for _, location := range []string{"geo.json", "temps.json", "points.json", "series.zip"} {
		assert.Equal(t, 1, origin.calls[location], location)
	}
}

func TestRedisCache_Unreachable(t *testing.T) {
	assert.Nil(t, OpenRedis("", "", 0))

	client := OpenRedis("127.0.0.1:1", "", 0)
	require.NotNil(t, client)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cache := NewRedisCache(client, "tempmap:", time.Minute)
	assert.Error(t, cache.Ping(ctx))

	_, ok, err := cache.Get(ctx, "http://example/a")
	assert.Error(t, err)
	assert.False(t, ok)

	// A dead cache falls through to the fetcher
	next := &countingFetcher{}
	f := NewCachingFetcher(next, cache, newTestLogger(), newTestMetrics())
	data, err := f.Fetch(ctx, "http://example/a")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.Equal(t, int32(1), next.calls.Load())
}

func fullSources() Sources {
	return Sources{
		Geometry:     "geo.json",
		Temperatures: "temps.json",
		Points:       "points.json",
		TimeSeries:   "series.zip",
	}
}

func fullFetcher(t *testing.T) *stubFetcher {
	f := newStubFetcher()
	f.payloads["geo.json"] = []byte(testGeometry)
	f.payloads["temps.json"] = []byte(`{"USA": 15.2, "CAN": -3.4}`)
	f.payloads["points.json"] = []byte(testPoints)
	f.payloads["series.zip"] = buildArchive(t, map[string]string{DefaultSeriesEntry: testSeries})
	return f
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("loads every source and caches the dataset", func(t *testing.T) {
		f := fullFetcher(t)
		store := NewStore(fullSources(), f, nil, newTestLogger(), newTestMetrics())

		ds, err := store.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, ds.Features, 2)
		assert.Equal(t, "USA", ds.Features[0].IdentityCode)
		assert.Equal(t, "United States", ds.Features[0].DisplayName)
		assert.Equal(t, 15.2, ds.Temperatures["USA"])
		assert.Len(t, ds.Points, 2)
		assert.Equal(t, 1, ds.RejectedPoints)
		assert.Equal(t, 2, ds.Series.Len())
		assert.True(t, ds.PointsAvailable())
		assert.True(t, ds.SeriesAvailable())

		again, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, ds, again)
		for _, location := range []string{"geo.json", "temps.json", "points.json", "series.zip"} {
			assert.Equal(t, 1, f.calls[location], location)
		}
	})

	t.Run("geometry failure fails the load", func(t *testing.T) {
		f := fullFetcher(t)
		f.errs["geo.json"] = errors.New("connection refused")
		m := newTestMetrics()
		store := NewStore(fullSources(), f, nil, newTestLogger(), m)

		_, err := store.Load(ctx)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.KindNetwork))

		var loadErr *models.DataLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, SourceGeometry, loadErr.Source)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadErrorsTotal.WithLabelValues(SourceGeometry, "network")))
	})

	t.Run("temperature failure fails the load", func(t *testing.T) {
		f := fullFetcher(t)
		f.payloads["temps.json"] = []byte("not json")
		store := NewStore(fullSources(), f, nil, newTestLogger(), newTestMetrics())

		_, err := store.Load(ctx)
		assert.True(t, models.IsKind(err, models.KindDecode))
	})

	t.Run("archive missing its entry degrades only the series", func(t *testing.T) {
		f := fullFetcher(t)
		f.payloads["series.zip"] = buildArchive(t, map[string]string{"wrong.json": testSeries})
		m := newTestMetrics()
		store := NewStore(fullSources(), f, nil, newTestLogger(), m)

		ds, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, ds.Features, 2)
		assert.False(t, ds.SeriesAvailable())
		assert.True(t, models.IsKind(ds.SeriesErr, models.KindDecode))
		assert.True(t, ds.PointsAvailable())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadErrorsTotal.WithLabelValues(SourceTimeSeries, "decode")))
	})

	t.Run("point failure degrades only the points", func(t *testing.T) {
		f := fullFetcher(t)
		f.errs["points.json"] = errors.New("timeout")
		store := NewStore(fullSources(), f, nil, newTestLogger(), newTestMetrics())

		ds, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.False(t, ds.PointsAvailable())
		assert.True(t, models.IsKind(ds.PointsErr, models.KindNetwork))
		assert.True(t, ds.SeriesAvailable())
	})

	t.Run("unconfigured optional sources are neither loaded nor failed", func(t *testing.T) {
		f := fullFetcher(t)
		store := NewStore(Sources{Geometry: "geo.json"}, f, nil, newTestLogger(), newTestMetrics())

		ds, err := store.Load(ctx)
		require.NoError(t, err)
		assert.NoError(t, ds.PointsErr)
		assert.NoError(t, ds.SeriesErr)
		assert.False(t, ds.PointsAvailable())
		assert.Equal(t, 0, ds.Series.Len())
	})

	t.Run("temperatures and stations from the catalog", func(t *testing.T) {
		f := fullFetcher(t)
		catalog := &stubCatalog{
			temps: []models.CountryTemperature{
				{IdentityCode: "usa", TemperatureCelsius: 12.5},
				{IdentityCode: models.SentinelCode, TemperatureCelsius: 1},
			},
			stations: []models.PointEntity{{Name: "Oslo", Lat: 59.9, Lon: 10.7}},
		}
		sources := Sources{Geometry: "geo.json", Temperatures: "db", Points: "DB"}
		store := NewStore(sources, f, catalog, newTestLogger(), newTestMetrics())

		ds, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.TemperatureSample{"USA": 12.5}, ds.Temperatures)
		assert.Len(t, ds.Points, 1)
	})

	t.Run("database source without a catalog fails", func(t *testing.T) {
		store := NewStore(Sources{Geometry: "geo.json", Temperatures: "db"}, fullFetcher(t), nil, newTestLogger(), newTestMetrics())
		_, err := store.Load(ctx)
		assert.True(t, models.IsKind(err, models.KindNetwork))
	})

	t.Run("missing geometry source", func(t *testing.T) {
		store := NewStore(Sources{}, newStubFetcher(), nil, newTestLogger(), newTestMetrics())
		_, err := store.Load(ctx)
		assert.Error(t, err)
	})
}

// gatedFetcher holds back one location until release is closed
type gatedFetcher struct {
	*stubFetcher
	location string
	release  chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if location == f.location {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.stubFetcher.Fetch(ctx, location)
}

func TestStore_SlowOptionalSourceDoesNotDelayLoad(t *testing.T) {
	ctx := context.Background()
	f := &gatedFetcher{stubFetcher: fullFetcher(t), location: "points.json", release: make(chan struct{})}
	store := NewStore(fullSources(), f, nil, newTestLogger(), newTestMetrics())

	type result struct {
		ds  *Dataset
		err error
	}
	done := make(chan result, 1)
	go func() {
		ds, err := store.Load(ctx)
		done <- result{ds, err}
	}()

	var first result
	select {
	case first = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Load waited for the points source")
	}
	require.NoError(t, first.err)
	assert.Len(t, first.ds.Features, 2)
	assert.True(t, first.ds.PointsPending)
	assert.False(t, first.ds.PointsAvailable())

	close(f.release)
	ds, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.False(t, ds.PointsPending)
	assert.True(t, ds.PointsAvailable())
	assert.True(t, ds.SeriesAvailable())

	// The earlier snapshot is not mutated
	assert.True(t, first.ds.PointsPending)
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers the current snapshot and later ones", func(t *testing.T) {
		f := &gatedFetcher{stubFetcher: fullFetcher(t), location: "series.zip", release: make(chan struct{})}
		store := NewStore(fullSources(), f, nil, newTestLogger(), newTestMetrics())
		_, err := store.Load(ctx)
		require.NoError(t, err)

		var mu sync.Mutex
		var seen []*Dataset
		store.Subscribe(func(ds *Dataset) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ds)
		})

		mu.Lock()
		require.NotEmpty(t, seen)
		assert.True(t, seen[0].SeriesPending)
		mu.Unlock()

		close(f.release)
		_, err = store.LoadAll(ctx)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		last := seen[len(seen)-1]
		assert.False(t, last.SeriesPending)
		assert.True(t, last.SeriesAvailable())
		assert.True(t, last.PointsAvailable())
	})

	t.Run("failed load delivers nothing", func(t *testing.T) {
		f := fullFetcher(t)
		f.errs["geo.json"] = errors.New("connection refused")
		store := NewStore(fullSources(), f, nil, newTestLogger(), newTestMetrics())
		_, err := store.LoadAll(ctx)
		require.Error(t, err)

		calls := 0
		store.Subscribe(func(*Dataset) { calls++ })
		assert.Equal(t, 0, calls)
	})
}
