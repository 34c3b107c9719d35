package tasks

import (
	"fmt"
	"sort"

	"senhts/internal/raster"
)

// AlignedComposite pairs the radar and optical composites of one interval.
// Bands are ordered radar first, then optical, each in requested order.
type AlignedComposite struct {
	Interval TimeInterval
	raster.Raster
}

// JoinMismatch records an interval that only one sensor sequence carried.
// It is a warning, not an error: the interval is dropped from the join.
type JoinMismatch struct {
	Interval TimeInterval
	Missing  raster.Sensor
}

func (m JoinMismatch) String() string {
	return fmt.Sprintf("interval %s has no %s composite", m.Interval.Label(), m.Missing)
}

// Align inner-joins the two composite sequences on interval start instant.
// The output is sorted by start and re-indexed from 0 in that order, so the
// index of an aligned interval is its position in the joined series.
func Align(radar, optical []SensorComposite) ([]AlignedComposite, []JoinMismatch, error) {
	byStart := make(map[int64]SensorComposite, len(optical))
	for _, c := range optical {
		key := c.Interval.Start.UnixNano()
		if _, dup := byStart[key]; dup {
			continue // first composite wins for a repeated interval
		}
		byStart[key] = c
	}

	matched := make(map[int64]bool, len(radar))
	var aligned []AlignedComposite
	var mismatches []JoinMismatch
	for _, r := range radar {
		key := r.Interval.Start.UnixNano()
		if matched[key] {
			continue
		}
		o, ok := byStart[key]
		if !ok {
			mismatches = append(mismatches, JoinMismatch{Interval: r.Interval, Missing: raster.SensorOptical})
			continue
		}
		matched[key] = true
		joined, err := r.Raster.Concat(o.Raster)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: interval %s: %v", ErrGridMismatch, r.Interval.Label(), err)
		}
		if err := joined.Validate(); err != nil {
			return nil, nil, fmt.Errorf("interval %s: %w", r.Interval.Label(), err)
		}
		aligned = append(aligned, AlignedComposite{Interval: r.Interval, Raster: joined})
	}
	for _, o := range optical {
		if !matched[o.Interval.Start.UnixNano()] {
			mismatches = append(mismatches, JoinMismatch{Interval: o.Interval, Missing: raster.SensorRadar})
		}
	}

	sort.SliceStable(aligned, func(i, j int) bool {
		return aligned[i].Interval.Start.Before(aligned[j].Interval.Start)
	})
	for i := range aligned {
		aligned[i].Interval.Index = i
	}
	sort.SliceStable(mismatches, func(i, j int) bool {
		return mismatches[i].Interval.Start.Before(mismatches[j].Interval.Start)
	})
	return aligned, mismatches, nil
}
