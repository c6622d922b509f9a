package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// KelvinOffset is the difference between the Kelvin and Celsius scales
const KelvinOffset = 273.15

// SentinelCode is the value the source datasets use for "no code assigned"
const SentinelCode = "-99"

// KelvinToCelsius converts an absolute temperature to degrees Celsius
func KelvinToCelsius(kelvin float64) float64 {
	return kelvin - KelvinOffset
}

// CelsiusToKelvin converts degrees Celsius to an absolute temperature
func CelsiusToKelvin(celsius float64) float64 {
	return celsius + KelvinOffset
}

// Feature represents one geographic region of the base map.
// Geometry is opaque to everything but the rendering layer.
type Feature struct {
	IdentityCode string            `json:"code"`
	DisplayName  string            `json:"name"`
	Geometry     *geojson.Geometry `json:"-"`
}

// HasIdentity reports whether the feature resolved to a usable identity code
func (f Feature) HasIdentity() bool {
	return f.IdentityCode != ""
}

// TemperatureSample maps an identity code to a static temperature in °C
type TemperatureSample map[string]float64

// Value returns the temperature for code, if present
func (t TemperatureSample) Value(code string) (float64, bool) {
	if code == "" {
		return 0, false
	}
	v, ok := t[code]
	return v, ok
}

// Values returns all temperatures ordered by code
func (t TemperatureSample) Values() []float64 {
	codes := make([]string, 0, len(t))
	for code := range t {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	values := make([]float64, 0, len(codes))
	for _, code := range codes {
		values = append(values, t[code])
	}
	return values
}

// CountryTemperature is a persisted per-region temperature
type CountryTemperature struct {
	IdentityCode       string    `json:"code" db:"iso3"`
	DisplayName        string    `json:"name" db:"name"`
	TemperatureCelsius float64   `json:"temperature_celsius" db:"temperature_celsius"`
	SampleCount        int       `json:"sample_count" db:"sample_count"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// CountryFrameTemperature is one region's mean temperature in one frame
type CountryFrameTemperature struct {
	IdentityCode       string  `json:"code" db:"iso3"`
	Timestamp          string  `json:"time" db:"frame_time"`
	TemperatureCelsius float64 `json:"temperature_celsius" db:"temperature_celsius"`
	SampleCount        int     `json:"sample_count" db:"sample_count"`
}

// PointKey identifies a point by position. Two samples at the same coordinate share a key.
type PointKey struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// String returns the "lon,lat" form of the key
func (k PointKey) String() string {
	return fmt.Sprintf("%g,%g", k.Lon, k.Lat)
}

// PointEntity represents a city or station marker
type PointEntity struct {
	Name            string     `json:"name" db:"name"`
	Lat             float64    `json:"lat" db:"lat"`
	Lon             float64    `json:"lon" db:"lon"`
	Elevation       float64    `json:"elevation" db:"elevation"`
	QuartilesKelvin [4]float64 `json:"quartiles_kelvin"`
}

// Key returns the positional key of the point
func (p PointEntity) Key() PointKey {
	return PointKey{Lon: p.Lon, Lat: p.Lat}
}

// QuartilesCelsius returns the quartile values converted to °C
func (p PointEntity) QuartilesCelsius() [4]float64 {
	var out [4]float64
	for i, k := range p.QuartilesKelvin {
		out[i] = KelvinToCelsius(k)
	}
	return out
}

// RawPointRecord represents a single record from the point dataset.
// Quartile values are in Kelvin.
type RawPointRecord struct {
	City   string   `json:"city"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Height *float64 `json:"height"`
	Q1     *float64 `json:"Q1"`
	Q2     *float64 `json:"Q2"`
	Q3     *float64 `json:"Q3"`
	Q4     *float64 `json:"Q4"`
}

// ToPointEntity validates the raw record and converts it to a PointEntity
func (r *RawPointRecord) ToPointEntity() (*PointEntity, error) {
	name := strings.TrimSpace(r.City)
	if name == "" {
		return nil, &ValidationError{
			Field:   "city",
			Value:   r.City,
			Message: "point record has no city name",
		}
	}

	if r.Lat == nil || r.Lon == nil {
		return nil, &ValidationError{
			Field:   "lat/lon",
			Value:   name,
			Message: fmt.Sprintf("point %q has no coordinates", name),
		}
	}

	if *r.Lat < -90 || *r.Lat > 90 {
		return nil, &ValidationError{
			Field:   "lat",
			Value:   fmt.Sprintf("%g", *r.Lat),
			Message: fmt.Sprintf("point %q latitude out of range", name),
		}
	}

	point := &PointEntity{
		Name: name,
		Lat:  *r.Lat,
		Lon:  *r.Lon,
	}

	if r.Height != nil {
		point.Elevation = *r.Height
	}

	for i, q := range []*float64{r.Q1, r.Q2, r.Q3, r.Q4} {
		if q == nil {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("Q%d", i+1),
				Value:   name,
				Message: fmt.Sprintf("point %q is missing quartile Q%d", name, i+1),
			}
		}
		point.QuartilesKelvin[i] = *q
	}

	return point, nil
}

// Sample is one (lon, lat, value) triple of a time-series frame. Value is in Kelvin.
type Sample struct {
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
	Value float64 `json:"value"`
}

// Key returns the positional key of the sample
func (s Sample) Key() PointKey {
	return PointKey{Lon: s.Lon, Lat: s.Lat}
}

// UnmarshalJSON decodes the [lon, lat, value] array form used by the archive
func (s *Sample) UnmarshalJSON(data []byte) error {
	var triple []float64
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if len(triple) != 3 {
		return fmt.Errorf("expected [lon, lat, value], got %d elements", len(triple))
	}
	s.Lon, s.Lat, s.Value = triple[0], triple[1], triple[2]
	return nil
}

// TimeSeries is the decoded, read-only temperature series.
// Timestamps are sorted lexicographically, which is chronological for ISO-style keys.
type TimeSeries struct {
	timestamps []string
	frames     map[string][]Sample
}

// NewTimeSeries builds a series from a timestamp -> frame mapping
func NewTimeSeries(frames map[string][]Sample) *TimeSeries {
	timestamps := make([]string, 0, len(frames))
	for ts := range frames {
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps)

	return &TimeSeries{
		timestamps: timestamps,
		frames:     frames,
	}
}

// Len returns the number of frames
func (t *TimeSeries) Len() int {
	if t == nil {
		return 0
	}
	return len(t.timestamps)
}

// Timestamps returns a copy of the sorted timestamps
func (t *TimeSeries) Timestamps() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.timestamps))
	copy(out, t.timestamps)
	return out
}

// Timestamp returns the timestamp at index i
func (t *TimeSeries) Timestamp(i int) string {
	return t.timestamps[i]
}

// Frame returns the samples at index i. The slice is shared and must not be modified.
func (t *TimeSeries) Frame(i int) []Sample {
	return t.frames[t.timestamps[i]]
}

// SelectionEntry is one pinned region
type SelectionEntry struct {
	IdentityCode string  `json:"code"`
	DisplayName  string  `json:"name"`
	Value        float64 `json:"value"`
}

// PlaybackState describes the position of the time slider
type PlaybackState struct {
	CurrentIndex int `json:"current_index"`
	TotalFrames  int `json:"total_frames"`
}
