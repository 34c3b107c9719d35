package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senhts/internal/raster"
)

func alignedSeries(t *testing.T, values ...[]float64) []AlignedComposite {
	t.Helper()
	intervals, err := GenerateIntervals(seriesStart, daysAfter(10*len(values)), 10)
	require.NoError(t, err)
	out := make([]AlignedComposite, len(values))
	for i, v := range values {
		o := obsAt(raster.SensorOptical, intervals[i].Start, map[string][]float64{"X": v})
		out[i] = AlignedComposite{Interval: intervals[i], Raster: o.Raster}
	}
	return out
}

func unfill(filled []FilledComposite) []AlignedComposite {
	out := make([]AlignedComposite, len(filled))
	for i, f := range filled {
		r := raster.Raster{Grid: f.Grid}
		for _, b := range f.Bands {
			if b.Name != DayOffsetBand {
				r.Bands = append(r.Bands, b)
			}
		}
		out[i] = AlignedComposite{Interval: f.Interval, Raster: r}
	}
	return out
}

func bandValues(t *testing.T, r raster.Raster, name string) []float64 {
	t.Helper()
	b, ok := r.Band(name)
	require.True(t, ok, "band %s", name)
	return b.Values
}

func TestFillKeepsValidPixels(t *testing.T) {
	aligned := alignedSeries(t, []float64{1, 2, 3, 4}, []float64{5, 6, 7, 8})
	filled, err := GapFiller{Window: 10 * day, Reference: seriesStart}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, bandValues(t, filled[0].Raster, "X"))
	assert.Equal(t, []float64{5, 6, 7, 8}, bandValues(t, filled[1].Raster, "X"))
}

func TestFillUsesWindowMean(t *testing.T) {
	aligned := alignedSeries(t,
		[]float64{5, 1, 1, invalid},
		[]float64{invalid, 2, invalid, invalid},
		[]float64{7, 3, invalid, invalid},
	)
	filled, err := GapFiller{Window: 10 * day, Reference: seriesStart, Workers: 2}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	require.Len(t, filled, 3)

	mid := filled[1]
	assert.Equal(t, []float64{6, 2, 1, Sentinel}, bandValues(t, mid.Raster, "X"))
	for _, f := range filled {
		for _, b := range f.Bands {
			assert.Equal(t, f.Grid.Size(), b.ValidCount(), "%s at %s", b.Name, f.Interval.Label())
		}
	}
}

func TestFillWindowExcludesDistantIntervals(t *testing.T) {
	aligned := alignedSeries(t, fill(100), fill(invalid), fill(invalid), fill(invalid))
	filled, err := GapFiller{Window: 10 * day, Reference: seriesStart}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	assert.Equal(t, fill(100), bandValues(t, filled[1].Raster, "X"))
	assert.Equal(t, fill(Sentinel), bandValues(t, filled[2].Raster, "X"))
	assert.Equal(t, fill(Sentinel), bandValues(t, filled[3].Raster, "X"))
}

func TestFillAppendsDayOffsetBand(t *testing.T) {
	aligned := alignedSeries(t, fill(1), fill(2), fill(3))
	filled, err := GapFiller{Window: 10 * day, Reference: seriesStart}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	for i, f := range filled {
		names := f.BandNames()
		assert.Equal(t, DayOffsetBand, names[len(names)-1])
		assert.Equal(t, 10*i, f.DayOffset)
		assert.Equal(t, fill(float64(10*i)), bandValues(t, f.Raster, DayOffsetBand))
	}
}

func TestFillYearStartOffset(t *testing.T) {
	start := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	o := obsAt(raster.SensorRadar, start, map[string][]float64{"X": fill(1)})
	aligned := []AlignedComposite{{Interval: TimeInterval{Start: start, End: start.Add(10 * day)}, Raster: o.Raster}}

	filled, err := GapFiller{Reference: OffsetFromYearStart.Reference(start)}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	assert.Equal(t, 59, filled[0].DayOffset)

	filled, err = GapFiller{Reference: OffsetFromRangeStart.Reference(start)}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	assert.Zero(t, filled[0].DayOffset)
}

func TestFillIsNotIdempotentAcrossWindows(t *testing.T) {
	aligned := alignedSeries(t, fill(10), fill(invalid), fill(invalid))
	ctx := context.Background()

	narrow, err := GapFiller{Window: 10 * day, Reference: seriesStart}.Fill(ctx, aligned)
	require.NoError(t, err)
	twice, err := GapFiller{Window: 20 * day, Reference: seriesStart}.Fill(ctx, unfill(narrow))
	require.NoError(t, err)
	wide, err := GapFiller{Window: 20 * day, Reference: seriesStart}.Fill(ctx, aligned)
	require.NoError(t, err)

	assert.Equal(t, fill(Sentinel), bandValues(t, twice[2].Raster, "X"))
	assert.Equal(t, fill(10), bandValues(t, wide[2].Raster, "X"))
}

func TestFillDoesNotMutateInput(t *testing.T) {
	aligned := alignedSeries(t, fill(invalid), fill(4))
	_, err := GapFiller{Window: 10 * day, Reference: seriesStart}.Fill(context.Background(), aligned)
	require.NoError(t, err)
	b, _ := aligned[0].Band("X")
	assert.Zero(t, b.ValidCount())
}

func TestParseDayOffsetBase(t *testing.T) {
	b, err := ParseDayOffsetBase("year_start")
	require.NoError(t, err)
	assert.Equal(t, OffsetFromYearStart, b)
	b, err = ParseDayOffsetBase("")
	require.NoError(t, err)
	assert.Equal(t, OffsetFromRangeStart, b)
	_, err = ParseDayOffsetBase("doy")
	assert.Error(t, err)
}
