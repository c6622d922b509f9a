package render

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/floats"
)

// DefaultPalette is a diverging blue-to-red ramp, coldest first
var DefaultPalette = []string{
	"#2166ac", "#4393c3", "#92c5de", "#d1e5f0", "#f7f7f7",
	"#fddbc7", "#f4a582", "#d6604d", "#b2182b",
}

// NoDataFill is the fill of a region without a temperature
const NoDataFill = "#dbeafe"

// TurboPalette selects the Turbo rainbow ramp instead of a list of stops
const TurboPalette = "turbo"

// ColorScale maps a fixed numeric domain onto a color ramp: piecewise-linear
// between palette stops, or a continuous interpolator. Values outside the
// domain clamp to the end colors.
type ColorScale struct {
	Min    float64
	Max    float64
	stops  []colorful.Color
	interp func(t float64) colorful.Color
}

// NewTurbo creates a scale over [min, max] on the Turbo ramp
func NewTurbo(min, max float64) (*ColorScale, error) {
	if !(min < max) {
		return nil, fmt.Errorf("invalid color domain [%g, %g]", min, max)
	}
	return &ColorScale{Min: min, Max: max, interp: Turbo}, nil
}

// NewScale creates a Turbo scale when palette is exactly [TurboPalette] and a
// sequential one otherwise
func NewScale(min, max float64, palette []string) (*ColorScale, error) {
	if len(palette) == 1 && palette[0] == TurboPalette {
		return NewTurbo(min, max)
	}
	return NewSequential(min, max, palette)
}

// Turbo returns the color at t of the Turbo colormap from its degree-5
// polynomial fit. t is clamped to [0, 1].
func Turbo(t float64) colorful.Color {
	t = math.Max(0, math.Min(1, t))
	channel := func(v float64) float64 {
		return math.Max(0, math.Min(255, math.Round(v))) / 255
	}
	return colorful.Color{
		R: channel(34.61 + t*(1172.33-t*(10793.56-t*(33300.12-t*(38394.49-t*14825.05))))),
		G: channel(23.31 + t*(557.33+t*(1225.33-t*(3574.96-t*(1073.77+t*707.56))))),
		B: channel(27.2 + t*(3211.1-t*(15327.97-t*(27814-t*(22569.18-t*6838.66))))),
	}
}

// NewSequential creates a scale over [min, max] interpolating the palette
func NewSequential(min, max float64, palette []string) (*ColorScale, error) {
	if !(min < max) {
		return nil, fmt.Errorf("invalid color domain [%g, %g]", min, max)
	}
	if len(palette) < 2 {
		return nil, fmt.Errorf("palette needs at least two colors, got %d", len(palette))
	}

	stops := make([]colorful.Color, len(palette))
	for i, hex := range palette {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, fmt.Errorf("invalid palette color %q: %w", hex, err)
		}
		stops[i] = c
	}

	return &ColorScale{Min: min, Max: max, stops: stops}, nil
}

// Color returns the hex color of v
func (s *ColorScale) Color(v float64) string {
	return s.At((v - s.Min) / (s.Max - s.Min))
}

// At returns the hex color at position t of the ramp, t in [0, 1]
func (s *ColorScale) At(t float64) string {
	if s.interp != nil {
		if math.IsNaN(t) {
			t = 0
		}
		return s.interp(t).Hex()
	}
	if math.IsNaN(t) || t <= 0 {
		return s.stops[0].Hex()
	}
	last := len(s.stops) - 1
	if t >= 1 {
		return s.stops[last].Hex()
	}

	pos := t * float64(last)
	i := int(math.Floor(pos))
	return s.stops[i].BlendRgb(s.stops[i+1], pos-float64(i)).Clamped().Hex()
}

// Value returns the domain value at position t
func (s *ColorScale) Value(t float64) float64 {
	return s.Min + t*(s.Max-s.Min)
}

// Extent returns the min and max of values; ok is false for an empty slice
func Extent(values []float64) (min, max float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	return floats.Min(values), floats.Max(values), true
}
