package render

import (
	"sort"

	"temperature-map/internal/models"
)

// SceneState is the accumulated result of every draw call on a Recorder
type SceneState struct {
	Revision   uint64         `json:"revision"`
	Regions    []RegionStyle  `json:"regions"`
	Heat       []HeatCell     `json:"heat"`
	Markers    []MarkerStyle  `json:"markers"`
	Selection  []SelectionRow `json:"selection"`
	Legend     *Legend        `json:"legend,omitempty"`
	HeatLegend *Legend        `json:"heat_legend,omitempty"`
	Tooltip    Tooltip        `json:"tooltip"`
	Playback   PlaybackView   `json:"playback"`
	Status     Status         `json:"status"`
}

// Recorder is an in-memory Surface that keeps the current scene so it can be
// served to remote clients. It is not safe for concurrent use.
type Recorder struct {
	state SceneState
	heat  map[models.PointKey]HeatCell
	ops   map[string]int
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		heat: make(map[models.PointKey]HeatCell),
		ops:  make(map[string]int),
	}
}

func (r *Recorder) touch(op string) {
	r.state.Revision++
	r.ops[op]++
}

// DrawRegions implements Surface
func (r *Recorder) DrawRegions(regions []RegionStyle) {
	r.touch("regions")
	r.state.Regions = regions
}

// DrawHeatmap implements Surface
func (r *Recorder) DrawHeatmap(update HeatmapUpdate) {
	r.touch("heatmap")
	for _, key := range update.Exit {
		delete(r.heat, key)
	}
	for _, cell := range update.Enter {
		r.heat[cell.Key] = cell
	}
	for _, cell := range update.Update {
		r.heat[cell.Key] = cell
	}
}

// DrawPlayback implements Surface
func (r *Recorder) DrawPlayback(playback PlaybackView) {
	r.touch("playback")
	r.state.Playback = playback
}

// DrawMarkers implements Surface
func (r *Recorder) DrawMarkers(markers []MarkerStyle) {
	r.touch("markers")
	r.state.Markers = markers
}

// DrawSelection implements Surface
func (r *Recorder) DrawSelection(rows []SelectionRow) {
	r.touch("selection")
	r.state.Selection = rows
}

// DrawLegend implements Surface
func (r *Recorder) DrawLegend(region, heat *Legend) {
	r.touch("legend")
	r.state.Legend = region
	r.state.HeatLegend = heat
}

// DrawTooltip implements Surface
func (r *Recorder) DrawTooltip(tooltip Tooltip) {
	r.touch("tooltip")
	r.state.Tooltip = tooltip
}

// SetStatus implements Surface
func (r *Recorder) SetStatus(status Status) {
	r.touch("status")
	r.state.Status = status
}

// Ops returns how many times op was drawn
func (r *Recorder) Ops(op string) int {
	return r.ops[op]
}

// Snapshot returns the current scene with heat cells ordered by position
func (r *Recorder) Snapshot() SceneState {
	s := r.state
	s.Heat = make([]HeatCell, 0, len(r.heat))
	for _, cell := range r.heat {
		s.Heat = append(s.Heat, cell)
	}
	sort.Slice(s.Heat, func(i, j int) bool {
		a, b := s.Heat[i].Key, s.Heat[j].Key
		if a.Lon != b.Lon {
			return a.Lon < b.Lon
		}
		return a.Lat < b.Lat
	})
	return s
}
