package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"senhts/internal/raster"
)

// AggregateKind selects the per-pixel reducer used to composite an interval.
type AggregateKind int

const (
	AggregateGeomedian AggregateKind = iota
	AggregateMedian
	AggregateMean
)

func (k AggregateKind) String() string {
	switch k {
	case AggregateMedian:
		return "median"
	case AggregateMean:
		return "mean"
	default:
		return "geomedian"
	}
}

// ParseAggregateKind maps a config string to an AggregateKind.
func ParseAggregateKind(s string) (AggregateKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "geomedian", "geometric_median":
		return AggregateGeomedian, nil
	case "median":
		return AggregateMedian, nil
	case "mean", "average":
		return AggregateMean, nil
	default:
		return AggregateGeomedian, fmt.Errorf("unknown aggregation %q", s)
	}
}

// SensorComposite is the reduction of one sensor's observations over one interval.
// A composite with no contributors is present but fully invalid.
type SensorComposite struct {
	Sensor       raster.Sensor
	Interval     TimeInterval
	Contributors int
	raster.Raster
}

// Aggregator reduces per-interval observation sets to SensorComposites.
type Aggregator struct {
	Kind      AggregateKind
	Geomedian GeomedianOptions
	Workers   int
}

// AssignObservations buckets observations into intervals by capture time.
// Membership is strict half-open containment widened by tolerance on both
// sides, so with a non-zero tolerance an observation may contribute to two
// neighbouring intervals.
func AssignObservations(obs []raster.Observation, intervals []TimeInterval, tolerance time.Duration) [][]raster.Observation {
	sets := make([][]raster.Observation, len(intervals))
	for _, o := range obs {
		for i, ti := range intervals {
			widened := TimeInterval{Start: ti.Start.Add(-tolerance), End: ti.End.Add(tolerance)}
			if widened.Contains(o.Captured) {
				sets[i] = append(sets[i], o)
			}
		}
	}
	return sets
}

// Aggregate assigns obs to intervals and composites each interval.
func (a Aggregator) Aggregate(ctx context.Context, sensor raster.Sensor, grid raster.Grid, bands []string, intervals []TimeInterval, obs []raster.Observation, tolerance time.Duration) ([]SensorComposite, error) {
	return a.AggregateSets(ctx, sensor, grid, bands, intervals, AssignObservations(obs, intervals, tolerance))
}

// AggregateSets composites pre-bucketed observation sets; sets[i] holds the
// contributors of intervals[i]. Intervals run in parallel.
func (a Aggregator) AggregateSets(ctx context.Context, sensor raster.Sensor, grid raster.Grid, bands []string, intervals []TimeInterval, sets [][]raster.Observation) ([]SensorComposite, error) {
	if len(sets) != len(intervals) {
		return nil, fmt.Errorf("got %d observation sets for %d intervals", len(sets), len(intervals))
	}
	out := make([]SensorComposite, len(intervals))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(a.Workers))
	for i := range intervals {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := a.Composite(sensor, grid, bands, intervals[i], sets[i])
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Composite reduces the contributors of a single interval.
//
// For the geomedian, a contributor takes part in the multivariate estimate at
// a pixel only when all requested bands are valid there. Bands with valid
// values but no complete vector fall back to the per-band median, so a band
// is valid wherever at least one contributor has a valid value.
func (a Aggregator) Composite(sensor raster.Sensor, grid raster.Grid, bands []string, interval TimeInterval, contributors []raster.Observation) (SensorComposite, error) {
	out := SensorComposite{
		Sensor:       sensor,
		Interval:     interval,
		Contributors: len(contributors),
		Raster:       raster.New(grid, bands...),
	}
	if len(contributors) == 0 {
		return out, nil
	}

	// lookup[c][b] is contributor c's band b, or nil when the band is absent.
	lookup := make([][]*raster.Band, len(contributors))
	for c, o := range contributors {
		if o.Grid != grid {
			return SensorComposite{}, fmt.Errorf("%w: %s observation at %s is %dx%d, want %dx%d",
				ErrGridMismatch, sensor, o.Captured.Format(time.RFC3339), o.Grid.Width, o.Grid.Height, grid.Width, grid.Height)
		}
		lookup[c] = make([]*raster.Band, len(bands))
		for b, name := range bands {
			if band, ok := o.Band(name); ok {
				lookup[c][b] = &band
			}
		}
	}

	vectors := make([][]float64, 0, len(contributors))
	scalars := make([]float64, 0, len(contributors))
	for p := 0; p < grid.Size(); p++ {
		if a.Kind == AggregateGeomedian {
			vectors = vectors[:0]
			for c := range contributors {
				if v, ok := pixelVector(lookup[c], p); ok {
					vectors = append(vectors, v)
				}
			}
			if len(vectors) > 0 {
				gm := Geomedian(vectors, a.Geomedian)
				for b := range bands {
					out.Bands[b].Values[p] = gm[b]
					out.Bands[b].Valid[p] = true
				}
				continue
			}
		}
		for b := range bands {
			scalars = scalars[:0]
			for c := range contributors {
				if band := lookup[c][b]; band != nil {
					if v, ok := band.At(p); ok {
						scalars = append(scalars, v)
					}
				}
			}
			if len(scalars) == 0 {
				continue
			}
			var v float64
			if a.Kind == AggregateMean {
				v = mean(scalars)
			} else {
				v = median(scalars)
			}
			out.Bands[b].Values[p] = v
			out.Bands[b].Valid[p] = true
		}
	}
	return out, nil
}

func pixelVector(bands []*raster.Band, p int) ([]float64, bool) {
	v := make([]float64, len(bands))
	for b, band := range bands {
		if band == nil {
			return nil, false
		}
		x, ok := band.At(p)
		if !ok {
			return nil, false
		}
		v[b] = x
	}
	return v, true
}

func workerLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
