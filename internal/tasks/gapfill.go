package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"senhts/internal/raster"
)

const (
	// DayOffsetBand names the per-interval day offset band.
	DayOffsetBand = "doy"

	// Sentinel is written where no value is available after filling.
	Sentinel = 0.0
)

// DayOffsetBase selects the reference instant for the day offset band.
type DayOffsetBase int

const (
	// OffsetFromRangeStart counts days from the date range start.
	OffsetFromRangeStart DayOffsetBase = iota
	// OffsetFromYearStart counts days from 1 January of the range start year.
	OffsetFromYearStart
)

// ParseDayOffsetBase maps a config string to a DayOffsetBase.
func ParseDayOffsetBase(s string) (DayOffsetBase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "range_start":
		return OffsetFromRangeStart, nil
	case "year_start":
		return OffsetFromYearStart, nil
	default:
		return OffsetFromRangeStart, fmt.Errorf("unknown day offset base %q", s)
	}
}

// Reference returns the instant day offsets are counted from.
func (b DayOffsetBase) Reference(rangeStart time.Time) time.Time {
	if b == OffsetFromYearStart {
		u := rangeStart.UTC()
		return time.Date(u.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return rangeStart
}

// FilledComposite is an aligned composite with no invalid pixels left and
// the day offset band appended last.
type FilledComposite struct {
	Interval  TimeInterval
	DayOffset int
	raster.Raster
}

// GapFiller replaces invalid pixels with the mean of a temporal window of
// neighbouring aligned composites.
type GapFiller struct {
	// Window is the half-width around an interval start; members whose start
	// lies within [start-Window, start+Window] contribute to the mean.
	Window time.Duration
	// Reference is the instant the day offset is counted from.
	Reference time.Time
	Workers   int
}

// Fill gap-fills every aligned composite. Each interval reads only the
// pre-fill aligned composites of its window, never another interval's
// filled output, so intervals are independent and run in parallel.
func (f GapFiller) Fill(ctx context.Context, aligned []AlignedComposite) ([]FilledComposite, error) {
	out := make([]FilledComposite, len(aligned))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(f.Workers))
	for i := range aligned {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = f.fillOne(aligned[i], f.window(aligned, i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// window returns the members of W(t) for aligned[i], including aligned[i].
func (f GapFiller) window(aligned []AlignedComposite, i int) []AlignedComposite {
	lo := aligned[i].Interval.Start.Add(-f.Window)
	hi := aligned[i].Interval.Start.Add(f.Window)
	var members []AlignedComposite
	for j, a := range aligned {
		s := a.Interval.Start
		if j == i || (!s.Before(lo) && !s.After(hi)) {
			members = append(members, a)
		}
	}
	return members
}

func (f GapFiller) fillOne(c AlignedComposite, members []AlignedComposite) FilledComposite {
	offset := c.Interval.DayOffset(f.Reference)
	filled := raster.Raster{Grid: c.Grid, Bands: make([]raster.Band, 0, len(c.Bands)+1)}

	sum := make([]float64, c.Grid.Size())
	count := make([]int, c.Grid.Size())
	for _, src := range c.Bands {
		for p := range sum {
			sum[p], count[p] = 0, 0
		}
		for _, m := range members {
			mb, ok := m.Band(src.Name)
			if !ok || len(mb.Values) != len(sum) {
				continue
			}
			for p, valid := range mb.Valid {
				if valid {
					sum[p] += mb.Values[p]
					count[p]++
				}
			}
		}

		dst := raster.NewBand(src.Name, c.Grid)
		for p := range dst.Values {
			switch {
			case src.Valid[p]:
				dst.Values[p] = src.Values[p]
			case count[p] > 0:
				dst.Values[p] = sum[p] / float64(count[p])
			default:
				dst.Values[p] = Sentinel
			}
			dst.Valid[p] = true
		}
		filled.Bands = append(filled.Bands, dst)
	}
	filled.Bands = append(filled.Bands, raster.ConstantBand(DayOffsetBand, c.Grid, float64(offset)))

	return FilledComposite{Interval: c.Interval, DayOffset: offset, Raster: filled}
}
