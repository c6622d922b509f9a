package services

import (
	"fmt"

	"temperature-map/internal/models"
	"temperature-map/internal/render"
)

// BridgeOptions describes the projection and fixed color domains of the map
type BridgeOptions struct {
	Width      float64
	Height     float64
	Projection string
	HeatMin    float64
	HeatMax    float64
	PointMin   float64
	PointMax   float64
	// Heat and point colors; empty selects render.DefaultPalette
	Palette []string
	// Region colors; empty selects the Turbo ramp
	RegionPalette []string
	LegendWidth   float64
}

// NewBridge builds the render bridge. The region domain spans the loaded
// temperatures; the heat and point domains are fixed so colors keep their
// meaning across frames.
func NewBridge(opts BridgeOptions, temps models.TemperatureSample) (*render.Bridge, error) {
	projector, err := render.NewProjector(opts.Projection, opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	palette := opts.Palette
	if len(palette) == 0 {
		palette = render.DefaultPalette
	}
	regionPalette := opts.RegionPalette
	if len(regionPalette) == 0 {
		regionPalette = []string{render.TurboPalette}
	}

	cfg := render.Config{
		Projector:   projector,
		LegendWidth: opts.LegendWidth,
	}

	if lo, hi, ok := render.Extent(temps.Values()); ok {
		if lo == hi {
			lo, hi = lo-1, hi+1
		}
		if cfg.RegionScale, err = render.NewScale(lo, hi, regionPalette); err != nil {
			return nil, fmt.Errorf("region scale: %w", err)
		}
	}
	if cfg.HeatScale, err = render.NewScale(opts.HeatMin, opts.HeatMax, palette); err != nil {
		return nil, fmt.Errorf("heat scale: %w", err)
	}
	if cfg.PointScale, err = render.NewScale(opts.PointMin, opts.PointMax, palette); err != nil {
		return nil, fmt.Errorf("point scale: %w", err)
	}

	return render.NewBridge(cfg), nil
}
