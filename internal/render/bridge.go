// Package render turns the map's data and interaction state into declarative
// frame descriptions and hands them to a drawing surface.
package render

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"temperature-map/internal/models"
	"temperature-map/internal/search"
)

// RegionState is the visual state of a region
type RegionState string

const (
	RegionBase     RegionState = "base"
	RegionHasData  RegionState = "has-data"
	RegionHovered  RegionState = "hovered"
	RegionSelected RegionState = "selected"
)

// Region strokes by state
const (
	BaseStroke     = "#ffffff"
	HoverStroke    = "#0f172a"
	SelectedStroke = "#f97316"
)

// Marker shapes by classification
const (
	neutralRadius  = 4
	matchedRadius  = 7
	dimmedRadius   = 3
	neutralOpacity = 0.85
	matchedOpacity = 1
	dimmedOpacity  = 0.2
)

// Legend layout
const (
	DefaultLegendWidth = 160
	legendStops        = 11
	legendTicks        = 5
)

// FailedTemperatureLabel replaces the timestamp when the time series failed to load
const FailedTemperatureLabel = "Failed to load temperature data"

// RegionStyle is the style of one region
type RegionStyle struct {
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	State       RegionState `json:"state"`
	HasData     bool        `json:"has_data"`
	Fill        string      `json:"fill"`
	Stroke      string      `json:"stroke"`
	StrokeWidth float64     `json:"stroke_width"`
}

// MarkerStyle is the style of one point marker
type MarkerStyle struct {
	Key     models.PointKey       `json:"key"`
	Name    string                `json:"name"`
	X       float64               `json:"x"`
	Y       float64               `json:"y"`
	Radius  float64               `json:"radius"`
	Fill    string                `json:"fill"`
	Opacity float64               `json:"opacity"`
	Class   search.Classification `json:"class"`
	Hovered bool                  `json:"hovered"`
}

// LegendStop is one gradient stop, offset in [0, 1]
type LegendStop struct {
	Offset float64 `json:"offset"`
	Color  string  `json:"color"`
}

// LegendTick is one axis tick, X in pixels along the legend
type LegendTick struct {
	X     float64 `json:"x"`
	Label string  `json:"label"`
}

// Legend describes a color legend
type Legend struct {
	Title string       `json:"title"`
	Width float64      `json:"width"`
	Stops []LegendStop `json:"stops"`
	Ticks []LegendTick `json:"ticks"`
}

// Tooltip is the hover tooltip content
type Tooltip struct {
	Visible bool     `json:"visible"`
	Title   string   `json:"title,omitempty"`
	Lines   []string `json:"lines,omitempty"`
}

// SelectionRow is one row of the pinned-region list
type SelectionRow struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// PlaybackView is the slider and timestamp display
type PlaybackView struct {
	Enabled bool   `json:"enabled"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
}

// FeatureState is the availability of a map feature
type FeatureState string

const (
	FeatureReady    FeatureState = "ready"
	FeatureLoading  FeatureState = "loading"
	FeatureFailed   FeatureState = "failed"
	FeatureDisabled FeatureState = "disabled"
)

// Status describes which parts of the view work and why others don't
type Status struct {
	Map      FeatureState `json:"map"`
	Playback FeatureState `json:"playback"`
	Search   FeatureState `json:"search"`
	Messages []string     `json:"messages,omitempty"`
}

// Surface is the external drawing layer
type Surface interface {
	DrawRegions(regions []RegionStyle)
	DrawHeatmap(update HeatmapUpdate)
	DrawPlayback(playback PlaybackView)
	DrawMarkers(markers []MarkerStyle)
	DrawSelection(rows []SelectionRow)
	DrawLegend(region, heat *Legend)
	DrawTooltip(tooltip Tooltip)
	SetStatus(status Status)
}

// Snapshot is the complete input of one composed frame
type Snapshot struct {
	Features     []models.Feature
	Temperatures models.TemperatureSample
	Selection    []models.SelectionEntry
	Hovered      string

	Points       []models.PointEntity
	Classes      map[models.PointKey]search.Classification
	HoveredPoint *models.PointKey

	Playback PlaybackView
	Status   Status
}

// Frame is the declarative description of the whole view
type Frame struct {
	Regions    []RegionStyle  `json:"regions"`
	Markers    []MarkerStyle  `json:"markers"`
	Selection  []SelectionRow `json:"selection"`
	Legend     *Legend        `json:"legend,omitempty"`
	HeatLegend *Legend        `json:"heat_legend,omitempty"`
	Tooltip    Tooltip        `json:"tooltip"`
	Playback   PlaybackView   `json:"playback"`
	Status     Status         `json:"status"`
}

// Config holds the fixed scales and projection of a bridge
type Config struct {
	Projector   Projector
	RegionScale *ColorScale
	HeatScale   *ColorScale
	PointScale  *ColorScale
	LegendWidth float64
}

// Bridge composes frames. It holds configuration only; every method is a
// pure function of its arguments.
type Bridge struct {
	cfg Config
}

// NewBridge creates a bridge. Nil scales disable the matching layer.
func NewBridge(cfg Config) *Bridge {
	if cfg.LegendWidth <= 0 {
		cfg.LegendWidth = DefaultLegendWidth
	}
	return &Bridge{cfg: cfg}
}

// Compose builds the frame for snap
func (b *Bridge) Compose(snap Snapshot) Frame {
	frame := Frame{
		Regions:   b.Regions(snap.Features, snap.Temperatures, snap.Selection, snap.Hovered),
		Markers:   b.Markers(snap.Points, snap.Classes, snap.HoveredPoint),
		Selection: SelectionRows(snap.Selection),
		Playback:  snap.Playback,
		Status:    snap.Status,
	}

	if b.cfg.RegionScale != nil && len(snap.Temperatures) > 0 {
		frame.Legend = b.legend("Temperature (°C)", b.cfg.RegionScale, identity)
	}
	if b.cfg.HeatScale != nil && snap.Playback.Enabled {
		frame.HeatLegend = b.legend("Surface temperature (°C)", b.cfg.HeatScale, models.KelvinToCelsius)
	}

	frame.Tooltip = b.tooltip(snap)
	return frame
}

// Present sends every layer of frame except the heat layer to surface
func (b *Bridge) Present(surface Surface, frame Frame) {
	surface.SetStatus(frame.Status)
	surface.DrawRegions(frame.Regions)
	surface.DrawMarkers(frame.Markers)
	surface.DrawSelection(frame.Selection)
	surface.DrawLegend(frame.Legend, frame.HeatLegend)
	surface.DrawTooltip(frame.Tooltip)
	surface.DrawPlayback(frame.Playback)
}

// PresentHeatmap sends one heat layer change set and the slider state to surface
func (b *Bridge) PresentHeatmap(surface Surface, update HeatmapUpdate, playback PlaybackView) {
	surface.DrawHeatmap(update)
	surface.DrawPlayback(playback)
}

// Regions styles every feature. Selected wins over hovered, hovered over has-data.
func (b *Bridge) Regions(features []models.Feature, temps models.TemperatureSample, selection []models.SelectionEntry, hovered string) []RegionStyle {
	selected := make(map[string]struct{}, len(selection))
	for _, e := range selection {
		selected[e.IdentityCode] = struct{}{}
	}

	out := make([]RegionStyle, 0, len(features))
	for _, f := range features {
		style := RegionStyle{
			Code:        f.IdentityCode,
			Name:        f.DisplayName,
			State:       RegionBase,
			Fill:        NoDataFill,
			Stroke:      BaseStroke,
			StrokeWidth: 0.5,
		}

		if v, ok := temps.Value(f.IdentityCode); ok {
			style.HasData = true
			style.State = RegionHasData
			if b.cfg.RegionScale != nil {
				style.Fill = b.cfg.RegionScale.Color(v)
			}
		}

		_, isSelected := selected[f.IdentityCode]
		switch {
		case f.HasIdentity() && isSelected:
			style.State = RegionSelected
			style.Stroke = SelectedStroke
			style.StrokeWidth = 2
		case f.HasIdentity() && f.IdentityCode == hovered:
			style.State = RegionHovered
			style.Stroke = HoverStroke
			style.StrokeWidth = 1.5
		}

		out = append(out, style)
	}
	return out
}

// Markers styles every point by its search classification
func (b *Bridge) Markers(points []models.PointEntity, classes map[models.PointKey]search.Classification, hovered *models.PointKey) []MarkerStyle {
	out := make([]MarkerStyle, 0, len(points))
	for _, p := range points {
		x, y, ok := b.project(p.Lon, p.Lat)
		if !ok {
			continue
		}

		class := classes[p.Key()]
		m := MarkerStyle{
			Key:   p.Key(),
			Name:  p.Name,
			X:     x,
			Y:     y,
			Class: class,
			Fill:  NoDataFill,
		}

		switch class {
		case search.Matched:
			m.Radius, m.Opacity = matchedRadius, matchedOpacity
		case search.Dimmed:
			m.Radius, m.Opacity = dimmedRadius, dimmedOpacity
		default:
			m.Radius, m.Opacity = neutralRadius, neutralOpacity
		}

		if b.cfg.PointScale != nil {
			q := p.QuartilesCelsius()
			m.Fill = b.cfg.PointScale.Color(stat.Mean(q[:], nil))
		}

		if hovered != nil && *hovered == m.Key {
			m.Hovered = true
		}

		out = append(out, m)
	}
	return out
}

// HeatCells projects and colors the samples of one frame. Samples that cannot
// be projected are dropped.
func (b *Bridge) HeatCells(samples []models.Sample) []HeatCell {
	out := make([]HeatCell, 0, len(samples))
	for _, s := range samples {
		x, y, ok := b.project(s.Lon, s.Lat)
		if !ok {
			continue
		}
		cell := HeatCell{Key: s.Key(), X: x, Y: y, Value: s.Value, Fill: NoDataFill}
		if b.cfg.HeatScale != nil {
			cell.Fill = b.cfg.HeatScale.Color(s.Value)
		}
		out = append(out, cell)
	}
	return out
}

// SelectionRows formats the pinned regions in insertion order
func SelectionRows(entries []models.SelectionEntry) []SelectionRow {
	rows := make([]SelectionRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, SelectionRow{
			Code:  e.IdentityCode,
			Name:  e.DisplayName,
			Label: FormatCelsius(e.Value),
		})
	}
	return rows
}

// FormatCelsius formats a temperature for tooltips and lists
func FormatCelsius(v float64) string {
	return fmt.Sprintf("%.2f °C", v)
}

func (b *Bridge) project(lon, lat float64) (float64, float64, bool) {
	if b.cfg.Projector == nil {
		return 0, 0, false
	}
	return b.cfg.Projector.Project(lon, lat)
}

func (b *Bridge) tooltip(snap Snapshot) Tooltip {
	if snap.HoveredPoint != nil {
		for _, p := range snap.Points {
			if p.Key() != *snap.HoveredPoint {
				continue
			}
			q := p.QuartilesCelsius()
			return Tooltip{
				Visible: true,
				Title:   p.Name,
				Lines: []string{
					fmt.Sprintf("Elevation: %.0f m", p.Elevation),
					fmt.Sprintf("Q1: %.2f °C", q[0]),
					fmt.Sprintf("Q2: %.2f °C", q[1]),
					fmt.Sprintf("Q3: %.2f °C", q[2]),
					fmt.Sprintf("Q4: %.2f °C", q[3]),
				},
			}
		}
	}

	if snap.Hovered == "" {
		return Tooltip{}
	}
	for _, f := range snap.Features {
		if f.IdentityCode != snap.Hovered {
			continue
		}
		line := "Data unavailable"
		if v, ok := snap.Temperatures.Value(f.IdentityCode); ok {
			line = FormatCelsius(v)
		}
		return Tooltip{Visible: true, Title: f.DisplayName, Lines: []string{line}}
	}
	return Tooltip{}
}

func identity(v float64) float64 { return v }

// legend builds an 11-stop gradient and 5 evenly spaced ticks over the scale's
// domain. label converts domain values to the displayed unit.
func (b *Bridge) legend(title string, scale *ColorScale, label func(float64) float64) *Legend {
	l := &Legend{
		Title: title,
		Width: b.cfg.LegendWidth,
		Stops: make([]LegendStop, 0, legendStops),
		Ticks: make([]LegendTick, 0, legendTicks),
	}

	for i := 0; i < legendStops; i++ {
		t := float64(i) / float64(legendStops-1)
		l.Stops = append(l.Stops, LegendStop{Offset: t, Color: scale.At(t)})
	}

	for i := 0; i < legendTicks; i++ {
		t := float64(i) / float64(legendTicks-1)
		v := label(scale.Value(t))
		if math.Abs(v) < 0.05 {
			v = 0
		}
		l.Ticks = append(l.Ticks, LegendTick{
			X:     t * l.Width,
			Label: fmt.Sprintf("%.1f°C", v),
		})
	}
	return l
}
