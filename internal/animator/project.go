package animator

import (
	"sort"

	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

// Project samples s at columns evenly spaced X positions across b, joining
// neighbouring samples with straight lines. Y is clamped into b. Columns
// outside the recorded time span sit on YMin.
func Project(s series.TimeSeries, b Bounds, columns int) []float64 {
	if columns <= 0 {
		return nil
	}
	out := make([]float64, columns)
	step := 0.0
	if columns > 1 {
		step = (b.XMax - b.XMin) / float64(columns-1)
	}
	for i := range out {
		x := b.XMin + float64(i)*step
		out[i] = clamp(valueAt(s, x, b.YMin), b.YMin, b.YMax)
	}
	return out
}

func valueAt(s series.TimeSeries, x, floor float64) float64 {
	tp := s.TimePoints
	n := len(tp)
	if n == 0 || x < tp[0] || x > tp[n-1] {
		return floor
	}
	// k is the last sample at or before x.
	k := sort.Search(n, func(i int) bool { return tp[i] > x }) - 1
	if k == n-1 {
		return s.Scores[k]
	}
	x0, x1 := tp[k], tp[k+1]
	y0, y1 := s.Scores[k], s.Scores[k+1]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
