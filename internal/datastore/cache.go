package datastore

import (
	"context"

	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// PayloadCache stores raw fetched payloads by location. It outlives the
// process, so a restart reads its sources from the cache instead of the origin.
type PayloadCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachingFetcher serves payloads from a shared cache and fills it on a miss
type CachingFetcher struct {
	next    Fetcher
	cache   PayloadCache
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCachingFetcher wraps next with cache
func NewCachingFetcher(next Fetcher, cache PayloadCache, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CachingFetcher {
	return &CachingFetcher{
		next:    next,
		cache:   cache,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Fetch returns the cached payload or fetches and stores it.
// Cache failures are logged and never fail the fetch.
func (f *CachingFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	data, ok, err := f.cache.Get(ctx, location)
	if err != nil {
		f.logger.Warn(ctx, "[CACHE_GET_ERROR] Payload cache read failed", logging.Fields{
			"location": location,
			"error":    err.Error(),
		})
	}
	if ok {
		f.metrics.PayloadCacheHits.Inc()
		return data, nil
	}
	f.metrics.PayloadCacheMisses.Inc()

	payload, err := f.next.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Set(ctx, location, payload); err != nil {
		f.logger.Warn(ctx, "[CACHE_SET_ERROR] Payload cache write failed", logging.Fields{
			"location": location,
			"error":    err.Error(),
		})
	}
	return payload, nil
}
