// Package playback drives the time slider over a decoded time series.
package playback

import (
	"errors"

	"temperature-map/internal/models"
)

// ErrNoFrames is returned when the slider is moved before any frame is loaded
var ErrNoFrames = errors.New("playback: no frames loaded")

// FrameRenderer draws one frame of the series
type FrameRenderer interface {
	RenderFrame(index int, timestamp string, samples []models.Sample)
}

// Controller owns the current frame index. The index is always a valid
// offset into the series' sorted timestamps. Not safe for concurrent use.
type Controller struct {
	series   *models.TimeSeries
	renderer FrameRenderer
	current  int
	started  bool
}

// NewController creates a controller positioned at the first frame.
// series may be nil or empty; every index change is then rejected.
func NewController(series *models.TimeSeries, renderer FrameRenderer) *Controller {
	return &Controller{series: series, renderer: renderer}
}

// Start renders the first frame
func (c *Controller) Start() error {
	if c.series.Len() == 0 {
		return ErrNoFrames
	}
	c.current = 0
	c.started = true
	c.render()
	return nil
}

// SetIndex moves to index i, clamped to [0, N-1]. The frame is rendered only
// when the index changed.
func (c *Controller) SetIndex(i int) (changed bool, err error) {
	n := c.series.Len()
	if n == 0 {
		return false, ErrNoFrames
	}

	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}

	if c.started && i == c.current {
		return false, nil
	}

	c.current = i
	c.started = true
	c.render()
	return true, nil
}

// State returns the current position
func (c *Controller) State() models.PlaybackState {
	return models.PlaybackState{
		CurrentIndex: c.current,
		TotalFrames:  c.series.Len(),
	}
}

// Timestamp returns the label of the current frame, or "" without frames
func (c *Controller) Timestamp() string {
	if c.series.Len() == 0 {
		return ""
	}
	return c.series.Timestamp(c.current)
}

func (c *Controller) render() {
	if c.renderer == nil {
		return
	}
	c.renderer.RenderFrame(c.current, c.series.Timestamp(c.current), c.series.Frame(c.current))
}
