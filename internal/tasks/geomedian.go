package tasks

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GeomedianOptions tunes the Weiszfeld iteration.
type GeomedianOptions struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultGeomedianOptions converge well below the int16 quantisation step.
var DefaultGeomedianOptions = GeomedianOptions{MaxIterations: 500, Tolerance: 1e-6}

// Geomedian returns the point minimising the sum of Euclidean distances to
// points, using the Vardi-Zhang modification of Weiszfeld's algorithm so that
// estimates landing on a sample point do not stall. All points must have the
// same dimension.
func Geomedian(points [][]float64, opts GeomedianOptions) []float64 {
	if len(points) == 0 {
		return nil
	}
	dim := len(points[0])
	if allEqual(points) {
		out := make([]float64, dim)
		copy(out, points[0])
		return out
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultGeomedianOptions.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultGeomedianOptions.Tolerance
	}

	y := make([]float64, dim)
	for _, p := range points {
		floats.Add(y, p)
	}
	floats.Scale(1/float64(len(points)), y)

	t := make([]float64, dim)
	next := make([]float64, dim)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		for i := range t {
			t[i] = 0
		}
		var invSum float64
		zeros := 0
		for _, p := range points {
			d := floats.Distance(p, y, 2)
			if d == 0 {
				zeros++
				continue
			}
			floats.AddScaled(t, 1/d, p)
			invSum += 1 / d
		}
		if zeros == len(points) {
			return y
		}
		floats.Scale(1/invSum, t)

		if zeros == 0 {
			copy(next, t)
		} else {
			// r = |(T - y) * invSum|; the estimate is pulled towards the
			// coincident sample in proportion to how many points sit there.
			r := floats.Distance(t, y, 2) * invSum
			rinv := 0.0
			if r > 0 {
				rinv = float64(zeros) / r
			}
			for i := range next {
				next[i] = max(0, 1-rinv)*t[i] + min(1, rinv)*y[i]
			}
		}

		if floats.Distance(next, y, 2) < opts.Tolerance {
			copy(y, next)
			return y
		}
		copy(y, next)
	}
	return y
}

// median is the one-dimensional geomedian: the midpoint of the two central
// order statistics for even counts. values is reordered.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

func mean(values []float64) float64 {
	return stat.Mean(values, nil)
}

func allEqual(points [][]float64) bool {
	for _, p := range points[1:] {
		if !floats.Equal(p, points[0]) {
			return false
		}
	}
	return true
}
