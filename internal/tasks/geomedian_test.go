package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func TestGeomedianSinglePoint(t *testing.T) {
	got := Geomedian([][]float64{{1234, -567, 89}}, DefaultGeomedianOptions)
	assert.Equal(t, []float64{1234, -567, 89}, got)
}

func TestGeomedianIdenticalPoints(t *testing.T) {
	p := []float64{0.1, 0.7, 1e-3}
	got := Geomedian([][]float64{p, p, p}, DefaultGeomedianOptions)
	assert.Equal(t, p, got)
}

func TestGeomedianResistsOutlier(t *testing.T) {
	points := [][]float64{
		{1000, 2000},
		{1010, 2010},
		{990, 1990},
		{1000, 2000},
		{9000, -5000},
	}
	got := Geomedian(points, DefaultGeomedianOptions)
	assert.InDelta(t, 1000, got[0], 15)
	assert.InDelta(t, 2000, got[1], 15)
}

func TestGeomedianMinimisesDistanceSum(t *testing.T) {
	points := [][]float64{{0, 0}, {10, 0}, {0, 10}, {7, 7}}
	got := Geomedian(points, DefaultGeomedianOptions)

	cost := func(y []float64) float64 {
		var s float64
		for _, p := range points {
			s += floats.Distance(p, y, 2)
		}
		return s
	}
	best := cost(got)
	for _, d := range [][]float64{{0.5, 0}, {-0.5, 0}, {0, 0.5}, {0, -0.5}} {
		probe := []float64{got[0] + d[0], got[1] + d[1]}
		assert.LessOrEqual(t, best, cost(probe)+1e-9)
	}
}

func TestGeomedianCollinearIsMedian(t *testing.T) {
	got := Geomedian([][]float64{{1}, {2}, {100}}, DefaultGeomedianOptions)
	assert.InDelta(t, 2, got[0], 1e-3)
}

func TestMedianEvenCount(t *testing.T) {
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, median([]float64{5, 3, 1}))
}
