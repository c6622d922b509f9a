package render

import (
	"fmt"
	"math"
	"strings"
)

// Projector maps a geographic position to screen coordinates
type Projector interface {
	Project(lon, lat float64) (x, y float64, ok bool)
}

// NormalizeLongitude maps any longitude into [-180, 180)
func NormalizeLongitude(lon float64) float64 {
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

func validPosition(lon, lat float64) bool {
	return !math.IsNaN(lon) && !math.IsInf(lon, 0) && lat >= -90 && lat <= 90
}

// Equirectangular maps longitude and latitude linearly onto a width x height plane
type Equirectangular struct {
	Width  float64
	Height float64
}

// Project implements Projector
func (p Equirectangular) Project(lon, lat float64) (float64, float64, bool) {
	if !validPosition(lon, lat) {
		return 0, 0, false
	}
	lon = NormalizeLongitude(lon)
	return (lon + 180) / 360 * p.Width, (90 - lat) / 180 * p.Height, true
}

// NaturalEarth is the Natural Earth I pseudo-cylindrical projection centered
// on the plane at the given scale
type NaturalEarth struct {
	Width  float64
	Height float64
	Scale  float64
}

// DefaultNaturalEarthScale is the scale used for a 960x540 map
const DefaultNaturalEarthScale = 180

// Project implements Projector
func (p NaturalEarth) Project(lon, lat float64) (float64, float64, bool) {
	if !validPosition(lon, lat) {
		return 0, 0, false
	}

	lambda := NormalizeLongitude(lon) * math.Pi / 180
	phi := lat * math.Pi / 180
	phi2 := phi * phi
	phi4 := phi2 * phi2

	x := lambda * (0.8707 - 0.131979*phi2 + phi4*(-0.013791+phi4*(0.003971*phi2-0.001529*phi4)))
	y := phi * (1.007226 + phi2*(0.015085+phi4*(-0.044475+0.028874*phi2-0.005916*phi4)))

	return p.Width/2 + p.Scale*x, p.Height/2 - p.Scale*y, true
}

// NewProjector returns the projector named by kind: "natural_earth" or "equirectangular"
func NewProjector(kind string, width, height float64) (Projector, error) {
	switch strings.ToLower(kind) {
	case "", "natural_earth":
		return NaturalEarth{Width: width, Height: height, Scale: DefaultNaturalEarthScale * width / 960}, nil
	case "equirectangular":
		return Equirectangular{Width: width, Height: height}, nil
	default:
		return nil, fmt.Errorf("unknown projection %q", kind)
	}
}
