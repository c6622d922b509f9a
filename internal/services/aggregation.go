package services

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"temperature-map/internal/geo"
	"temperature-map/internal/models"
	"temperature-map/internal/render"
)

// regionShape is a feature prepared for point-in-polygon lookups
type regionShape struct {
	feature models.Feature
	bounds  geo.Bounds
}

// AggregateCountries averages every time-series sample that falls inside each
// region, across all frames, weighting samples by cos(latitude). Results are
// in °C rounded to two decimals and ordered by identity code. Regions without
// an identity code, geometry or any inside sample are omitted.
func AggregateCountries(ctx context.Context, features []models.Feature, series *models.TimeSeries) ([]models.CountryTemperature, error) {
	shapes := prepareShapes(features)
	owner, err := ownerIndex(ctx, shapes, series)
	if err != nil {
		return nil, err
	}

	values := make([][]float64, len(shapes))
	weights := make([][]float64, len(shapes))
	for i := 0; i < series.Len(); i++ {
		for _, s := range series.Frame(i) {
			region, ok := owner[s.Key()]
			if !ok || math.IsNaN(s.Value) {
				continue
			}
			values[region] = append(values[region], s.Value)
			weights[region] = append(weights[region], latitudeWeight(s.Lat))
		}
	}

	now := time.Now().UTC()
	out := make([]models.CountryTemperature, 0, len(shapes))
	for i, shape := range shapes {
		if len(values[i]) == 0 {
			continue
		}
		out = append(out, models.CountryTemperature{
			IdentityCode:       shape.feature.IdentityCode,
			DisplayName:        shape.feature.DisplayName,
			TemperatureCelsius: roundCelsius(stat.Mean(values[i], weights[i])),
			SampleCount:        len(values[i]),
			UpdatedAt:          now,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IdentityCode < out[j].IdentityCode })
	return out, nil
}

// AggregateCountrySeries averages the samples inside each region separately
// for every frame, with the same weighting and rounding as AggregateCountries.
// Rows are ordered by identity code, then frame. A region gets no row for a
// frame with no inside sample.
func AggregateCountrySeries(ctx context.Context, features []models.Feature, series *models.TimeSeries) ([]models.CountryFrameTemperature, error) {
	shapes := prepareShapes(features)
	owner, err := ownerIndex(ctx, shapes, series)
	if err != nil {
		return nil, err
	}

	rows := make([][]models.CountryFrameTemperature, len(shapes))
	values := make([][]float64, len(shapes))
	weights := make([][]float64, len(shapes))
	for i := 0; i < series.Len(); i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for r := range shapes {
			values[r], weights[r] = values[r][:0], weights[r][:0]
		}
		for _, s := range series.Frame(i) {
			region, ok := owner[s.Key()]
			if !ok || math.IsNaN(s.Value) {
				continue
			}
			values[region] = append(values[region], s.Value)
			weights[region] = append(weights[region], latitudeWeight(s.Lat))
		}
		timestamp := series.Timestamp(i)
		for r, shape := range shapes {
			if len(values[r]) == 0 {
				continue
			}
			rows[r] = append(rows[r], models.CountryFrameTemperature{
				IdentityCode:       shape.feature.IdentityCode,
				Timestamp:          timestamp,
				TemperatureCelsius: roundCelsius(stat.Mean(values[r], weights[r])),
				SampleCount:        len(values[r]),
			})
		}
	}

	order := make([]int, len(shapes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shapes[order[a]].feature.IdentityCode < shapes[order[b]].feature.IdentityCode
	})

	var out []models.CountryFrameTemperature
	for _, r := range order {
		out = append(out, rows[r]...)
	}
	return out, nil
}

// prepareShapes keeps the features that can own a sample
func prepareShapes(features []models.Feature) []regionShape {
	shapes := make([]regionShape, 0, len(features))
	for _, f := range features {
		if !f.HasIdentity() || f.Geometry == nil {
			continue
		}
		bounds, ok := geo.BoundsOf(f.Geometry)
		if !ok {
			continue
		}
		shapes = append(shapes, regionShape{feature: f, bounds: bounds})
	}
	return shapes
}

// ownerIndex maps every sampled position inside a region to that region's index
func ownerIndex(ctx context.Context, shapes []regionShape, series *models.TimeSeries) (map[models.PointKey]int, error) {
	positions := uniquePositions(series)
	owners, err := locate(ctx, shapes, positions)
	if err != nil {
		return nil, err
	}

	owner := make(map[models.PointKey]int, len(positions))
	for i, key := range positions {
		if owners[i] >= 0 {
			owner[key] = owners[i]
		}
	}
	return owner, nil
}

func latitudeWeight(lat float64) float64 {
	return math.Cos(lat * math.Pi / 180)
}

// roundCelsius converts Kelvin to °C with two decimals
func roundCelsius(kelvin float64) float64 {
	return math.Round(models.KelvinToCelsius(kelvin)*100) / 100
}

func uniquePositions(series *models.TimeSeries) []models.PointKey {
	seen := make(map[models.PointKey]struct{})
	var out []models.PointKey
	for i := 0; i < series.Len(); i++ {
		for _, s := range series.Frame(i) {
			if _, ok := seen[s.Key()]; ok {
				continue
			}
			seen[s.Key()] = struct{}{}
			out = append(out, s.Key())
		}
	}
	return out
}

// locate finds the region containing each position, -1 for none. The first
// region in feature order wins where polygons overlap.
func locate(ctx context.Context, shapes []regionShape, positions []models.PointKey) ([]int, error) {
	owners := make([]int, len(positions))

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(positions) + workers - 1) / workers
	if chunk == 0 {
		return owners, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(positions); start += chunk {
		start, end := start, min(start+chunk, len(positions))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				owners[i] = -1
				lon := render.NormalizeLongitude(positions[i].Lon)
				lat := positions[i].Lat
				for r, shape := range shapes {
					if shape.bounds.Contains(lon, lat) && geo.Contains(shape.feature.Geometry, lon, lat) {
						owners[i] = r
						break
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return owners, nil
}
