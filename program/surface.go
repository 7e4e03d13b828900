package main

import (
	styles "github.com/charmbracelet/lipgloss"
	plot "github.com/chriskim06/drawille-go"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

// brailleSurface draws frames on a drawille canvas. The canvas scales to
// its data, so every frame also carries a floor and a ceiling line at the
// Y limits; they pin the scale and double as the plot frame.
type brailleSurface struct {
	width, height int

	bounds   animator.Bounds
	current  *series.TimeSeries
	rendered string
	presents int
	released bool

	lineColor  plot.Color
	frameColor plot.Color
}

func newBrailleSurface(width, height int) *brailleSurface {
	s := &brailleSurface{width: max(1, width), height: max(1, height)}
	if styles.DefaultRenderer().HasDarkBackground() {
		s.lineColor, s.frameColor = plot.Red, plot.DimGray
	} else {
		s.lineColor, s.frameColor = plot.Black, plot.LightGray
	}
	return s
}

func (s *brailleSurface) Clear() {
	s.current = nil
	s.rendered = ""
}

func (s *brailleSurface) SetLimits(b animator.Bounds) { s.bounds = b }

func (s *brailleSurface) Plot(ts series.TimeSeries) { s.current = &ts }

func (s *brailleSurface) Present() error {
	s.rendered = s.draw()
	s.presents++
	return nil
}

func (s *brailleSurface) draw() string {
	if s.released {
		return ""
	}
	columns := max(2, 2*s.width)
	floor := make([]float64, columns)
	ceiling := make([]float64, columns)
	for i := range floor {
		floor[i] = s.bounds.YMin
		ceiling[i] = s.bounds.YMax
	}
	data := [][]float64{floor, ceiling}
	colors := []plot.Color{s.frameColor, s.frameColor}
	if s.current != nil {
		data = append(data, animator.Project(*s.current, s.bounds, columns))
		colors = append(colors, s.lineColor)
	}

	c := plot.NewCanvas(s.width, s.height)
	c.NumDataPoints = columns
	c.ShowAxis = false
	c.LineColors = colors
	c.Fill(data)
	return c.String()
}

// resize redraws the frame on hand at the new size. It is not an advance:
// the slot and the plotted series stay the same.
func (s *brailleSurface) resize(width, height int) {
	s.width, s.height = max(1, width), max(1, height)
	if s.presents > 0 {
		s.rendered = s.draw()
	}
}

func (s *brailleSurface) String() string { return s.rendered }

// plotted returns the series on screen, if any.
func (s *brailleSurface) plotted() *series.TimeSeries { return s.current }

func (s *brailleSurface) Close() error {
	s.released = true
	s.current = nil
	s.rendered = ""
	return nil
}
