package animator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

func TestProject(t *testing.T) {
	b := Bounds{XMin: 0, XMax: 4, YMin: 0, YMax: 100}
	s := series.TimeSeries{TimePoints: []float64{0, 2}, Scores: []float64{10, 30}}

	assert.Equal(t, []float64{10, 20, 30, 0, 0}, Project(s, b, 5))
}

func TestProjectClampsAndHoldsDuplicates(t *testing.T) {
	b := Bounds{XMin: 0, XMax: 2, YMin: 0, YMax: 50}
	s := series.TimeSeries{
		TimePoints: []float64{0, 1, 1, 2},
		Scores:     []float64{-5, 10, 40, 500},
	}
	// At x=1 the last sample of that minute wins.
	assert.Equal(t, []float64{0, 40, 50}, Project(s, b, 3))
}

func TestProjectEdgeCases(t *testing.T) {
	b := DefaultBounds
	assert.Nil(t, Project(series.TimeSeries{}, b, 0))
	assert.Equal(t, []float64{0, 0}, Project(series.TimeSeries{}, b, 2))

	one := series.TimeSeries{TimePoints: []float64{0}, Scores: []float64{12}}
	assert.Equal(t, []float64{12}, Project(one, b, 1))
}
