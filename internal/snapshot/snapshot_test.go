package snapshot

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

func TestClip(t *testing.T) {
	b := animator.Bounds{XMin: 0, XMax: 10, YMin: 0, YMax: 100}
	s := series.TimeSeries{
		TimePoints: []float64{0, 5, 11},
		Scores:     []float64{-1, 500, 50},
	}
	xs, ys := clip(s, b)
	assert.Equal(t, []float64{0, 5, 10}, xs)
	assert.Equal(t, []float64{0, 100, 100}, ys)

	xs, ys = clip(series.TimeSeries{TimePoints: []float64{3}, Scores: []float64{7}}, b)
	assert.Equal(t, []float64{3, 3}, xs)
	assert.Equal(t, []float64{7, 7}, ys)
}

func TestClipCutsSegmentsAtEdges(t *testing.T) {
	xs, ys := clip(series.TimeSeries{
		TimePoints: []float64{600, 800},
		Scores:     []float64{1000, 3000},
	}, animator.DefaultBounds)
	assert.Equal(t, []float64{600, 700}, xs)
	assert.Equal(t, []float64{1000, 2000}, ys)

	b := animator.Bounds{XMin: 0, XMax: 20, YMin: 0, YMax: 1000}
	xs, ys = clip(series.TimeSeries{
		TimePoints: []float64{-10, 10, 30},
		Scores:     []float64{0, 100, 300},
	}, b)
	assert.Equal(t, []float64{0, 10, 20}, xs)
	assert.Equal(t, []float64{50, 100, 200}, ys)

	xs, ys = clip(series.TimeSeries{
		TimePoints: []float64{-10, 30},
		Scores:     []float64{0, 400},
	}, b)
	assert.Equal(t, []float64{0, 20}, xs)
	assert.Equal(t, []float64{100, 300}, ys)

	xs, _ = clip(series.TimeSeries{TimePoints: []float64{25, 30}, Scores: []float64{1, 2}}, b)
	assert.Empty(t, xs)
}

func TestSurfaceWritesFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	s, err := NewSurface(dir, 320, 200)
	require.NoError(t, err)

	s.Clear()
	s.SetLimits(animator.DefaultBounds)
	require.NoError(t, s.Present())

	s.Clear()
	s.SetLimits(animator.DefaultBounds)
	s.Plot(series.TimeSeries{
		Name:       "/logs/run_log",
		TimePoints: []float64{0, 10, 20, 30},
		Scores:     []float64{100, 400, 900, 1600},
	})
	require.NoError(t, s.Present())
	require.NoError(t, s.Close())

	assert.Equal(t, 2, s.Frames())
	assert.Equal(t, filepath.Join(dir, "frame-00001.png"), s.Last())

	f, err := os.Open(s.Last())
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}
