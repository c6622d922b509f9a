// Package datastore loads and caches the map's data sources: base geometry,
// per-region temperatures, point markers and the time-indexed archive.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Fetcher retrieves the raw bytes behind a source location
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// ErrPayloadTooLarge is returned when a response body is over the fetcher's limit
var ErrPayloadTooLarge = errors.New("payload too large")

// HTTPFetcher fetches http(s) locations. Bodies over MaxBytes are rejected;
// MaxBytes <= 0 means no limit.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher creates an HTTP fetcher with the given request timeout
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: 512 << 20,
	}
}

// Fetch performs a GET request and returns the body. Non-2xx statuses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, location)
	}

	if f.MaxBytes <= 0 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		return data, nil
	}

	if resp.ContentLength > f.MaxBytes {
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit is %d", ErrPayloadTooLarge, location, resp.ContentLength, f.MaxBytes)
	}
	// One byte past the limit tells a full payload from a cut one
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrPayloadTooLarge, location, f.MaxBytes)
	}
	return data, nil
}

// FileFetcher reads local paths, with or without a file:// prefix
type FileFetcher struct{}

// Fetch reads the file at location
func (FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Router dispatches a location to the fetcher registered for its scheme
type Router struct {
	HTTP   Fetcher
	File   Fetcher
	Object Fetcher
}

// Fetch picks a fetcher by scheme: http(s), s3, or a local path
func (r *Router) Fetch(ctx context.Context, location string) ([]byte, error) {
	var next Fetcher
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		next = r.HTTP
	case strings.HasPrefix(location, "s3://"):
		next = r.Object
	default:
		next = r.File
	}

	if next == nil {
		return nil, fmt.Errorf("no fetcher configured for %q", location)
	}
	return next.Fetch(ctx, location)
}
