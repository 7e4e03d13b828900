// Package snapshot draws frames as PNG images, either as the headless
// rendering surface or to export what the terminal currently shows.
package snapshot

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

const (
	DefaultWidth  = 1024
	DefaultHeight = 480
)

// Render writes one frame showing s inside the fixed bounds b. An empty
// series gives an empty frame with the axes only.
func Render(path string, s *series.TimeSeries, b animator.Bounds, width, height int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	// A transparent baseline keeps go-chart happy on empty frames.
	frame := []chart.Series{chart.ContinuousSeries{
		XValues: []float64{b.XMin, b.XMax},
		YValues: []float64{b.YMin, b.YMin},
		Style:   chart.Style{StrokeColor: drawing.ColorTransparent},
	}}
	title := ""
	if s != nil {
		xs, ys := clip(*s, b)
		if len(xs) > 0 {
			frame = append(frame, chart.ContinuousSeries{
				Name:    filepath.Base(s.Name),
				XValues: xs,
				YValues: ys,
				Style:   chart.Style{StrokeColor: drawing.ColorRed, StrokeWidth: 2},
			})
		}
		title = filepath.Base(s.Name)
	}

	ch := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis:  chart.XAxis{Name: "minutes", Range: &chart.ContinuousRange{Min: b.XMin, Max: b.XMax}},
		YAxis:  chart.YAxis{Name: "score", Range: &chart.ContinuousRange{Min: b.YMin, Max: b.YMax}},
		Series: frame,
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create frame file")
	}
	if err := ch.Render(chart.PNG, f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "render %s", path)
	}
	return errors.Wrap(f.Close(), "close frame file")
}

// clip keeps the part of s inside the X bounds and clamps Y. Segments
// crossing an edge are cut at the edge, matching animator.Project. A lone
// sample is doubled so it still draws as a segment.
func clip(s series.TimeSeries, b animator.Bounds) ([]float64, []float64) {
	xs := make([]float64, 0, s.Len()+2)
	ys := make([]float64, 0, s.Len()+2)
	add := func(x, y float64) {
		xs = append(xs, x)
		ys = append(ys, math.Min(math.Max(y, b.YMin), b.YMax))
	}
	for i, x := range s.TimePoints {
		y := s.Scores[i]
		if i > 0 {
			px, py := s.TimePoints[i-1], s.Scores[i-1]
			if px < b.XMin && x > b.XMin {
				add(b.XMin, lerp(px, py, x, y, b.XMin))
			}
			if px < b.XMax && x > b.XMax {
				add(b.XMax, lerp(px, py, x, y, b.XMax))
			}
		}
		if x > b.XMax {
			break
		}
		if x >= b.XMin {
			add(x, y)
		}
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0])
		ys = append(ys, ys[0])
	}
	return xs, ys
}

func lerp(x0, y0, x1, y1, x float64) float64 {
	if x1 == x0 {
		return y1
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Surface writes every presented frame to Dir as frame-NNNNN.png.
type Surface struct {
	Dir           string
	Width, Height int

	bounds  animator.Bounds
	current *series.TimeSeries
	frames  int
	last    string
}

func NewSurface(dir string, width, height int) (*Surface, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create snapshot dir %s", dir)
	}
	return &Surface{Dir: dir, Width: width, Height: height}, nil
}

func (s *Surface) Clear()                     { s.current = nil }
func (s *Surface) SetLimits(b animator.Bounds) { s.bounds = b }

func (s *Surface) Plot(ts series.TimeSeries) {
	s.current = &ts
}

func (s *Surface) Present() error {
	path := filepath.Join(s.Dir, fmt.Sprintf("frame-%05d.png", s.frames))
	if err := Render(path, s.current, s.bounds, s.Width, s.Height); err != nil {
		return err
	}
	s.frames++
	s.last = path
	log.WithField("path", path).Debug("frame written")
	return nil
}

// Frames returns how many frames were written.
func (s *Surface) Frames() int { return s.frames }

// Last returns the path of the most recent frame.
func (s *Surface) Last() string { return s.last }

func (s *Surface) Close() error {
	log.WithFields(log.Fields{"dir": s.Dir, "frames": s.frames}).Info("snapshot surface closed")
	return nil
}
