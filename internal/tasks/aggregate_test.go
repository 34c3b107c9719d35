package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senhts/internal/raster"
)

func TestParseAggregateKind(t *testing.T) {
	for in, want := range map[string]AggregateKind{"": AggregateGeomedian, "GeoMedian": AggregateGeomedian, "median": AggregateMedian, "average": AggregateMean} {
		got, err := ParseAggregateKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAggregateKind("max")
	assert.Error(t, err)
}

func TestCompositeEmptySetIsFullyInvalid(t *testing.T) {
	agg := Aggregator{Kind: AggregateGeomedian}
	c, err := agg.Composite(raster.SensorRadar, testGrid, []string{"VV", "VH"}, TimeInterval{Start: seriesStart}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"VV", "VH"}, c.BandNames())
	assert.Zero(t, c.Contributors)
	for _, b := range c.Bands {
		assert.Zero(t, b.ValidCount(), b.Name)
	}
}

func TestCompositeSingleContributorIsIdentity(t *testing.T) {
	o := obsAt(raster.SensorOptical, daysAfter(3), map[string][]float64{
		"B4":   {1200, 1300, invalid, 1500},
		"NDVI": {6000, 6100, 6200, invalid},
	})
	for _, kind := range []AggregateKind{AggregateGeomedian, AggregateMedian, AggregateMean} {
		c, err := Aggregator{Kind: kind}.Composite(raster.SensorOptical, testGrid, []string{"B4", "NDVI"}, TimeInterval{}, []raster.Observation{o})
		require.NoError(t, err)

		b4, _ := c.Band("B4")
		ndvi, _ := c.Band("NDVI")
		assert.Equal(t, []bool{true, true, false, true}, b4.Valid, kind.String())
		assert.Equal(t, []bool{true, true, true, false}, ndvi.Valid, kind.String())
		assert.Equal(t, []float64{1200, 1300, 0, 1500}, b4.Values, kind.String())
		assert.Equal(t, 6200.0, ndvi.Values[2], kind.String())
	}
}

func TestCompositeIdenticalContributors(t *testing.T) {
	vals := map[string][]float64{"VV": fill(-1234), "VH": fill(-2345)}
	obs := []raster.Observation{
		obsAt(raster.SensorRadar, daysAfter(1), vals),
		obsAt(raster.SensorRadar, daysAfter(4), vals),
		obsAt(raster.SensorRadar, daysAfter(7), vals),
	}
	c, err := Aggregator{}.Composite(raster.SensorRadar, testGrid, []string{"VV", "VH"}, TimeInterval{}, obs)
	require.NoError(t, err)
	vv, _ := c.Band("VV")
	vh, _ := c.Band("VH")
	assert.Equal(t, fill(-1234), vv.Values)
	assert.Equal(t, fill(-2345), vh.Values)
}

func TestCompositeGeomedianRejectsOutlier(t *testing.T) {
	obs := []raster.Observation{
		obsAt(raster.SensorOptical, daysAfter(1), map[string][]float64{"B4": fill(1000), "B8": fill(3000)}),
		obsAt(raster.SensorOptical, daysAfter(2), map[string][]float64{"B4": fill(1010), "B8": fill(3010)}),
		obsAt(raster.SensorOptical, daysAfter(3), map[string][]float64{"B4": fill(990), "B8": fill(2990)}),
		obsAt(raster.SensorOptical, daysAfter(4), map[string][]float64{"B4": fill(9000), "B8": fill(100)}),
	}
	c, err := Aggregator{Kind: AggregateGeomedian}.Composite(raster.SensorOptical, testGrid, []string{"B4", "B8"}, TimeInterval{}, obs)
	require.NoError(t, err)
	b4, _ := c.Band("B4")
	assert.InDelta(t, 1000, b4.Values[0], 20)
}

func TestCompositePartialVectorFallsBackPerBand(t *testing.T) {
	obs := []raster.Observation{
		obsAt(raster.SensorRadar, daysAfter(1), map[string][]float64{"VV": {10, invalid, 5, invalid}, "VH": {20, 30, invalid, invalid}}),
		obsAt(raster.SensorRadar, daysAfter(2), map[string][]float64{"VV": {10, invalid, 7, invalid}, "VH": {20, 50, invalid, invalid}}),
	}
	c, err := Aggregator{Kind: AggregateGeomedian}.Composite(raster.SensorRadar, testGrid, []string{"VV", "VH"}, TimeInterval{}, obs)
	require.NoError(t, err)

	vv, _ := c.Band("VV")
	vh, _ := c.Band("VH")
	assert.Equal(t, []bool{true, false, true, false}, vv.Valid)
	assert.Equal(t, []bool{true, true, false, false}, vh.Valid)
	assert.Equal(t, 6.0, vv.Values[2])
	assert.Equal(t, 40.0, vh.Values[1])
}

func TestCompositeMissingBandIsInvalid(t *testing.T) {
	o := obsAt(raster.SensorRadar, daysAfter(1), map[string][]float64{"VV": fill(42)})
	c, err := Aggregator{}.Composite(raster.SensorRadar, testGrid, []string{"VV", "VH"}, TimeInterval{}, []raster.Observation{o})
	require.NoError(t, err)
	vv, _ := c.Band("VV")
	vh, _ := c.Band("VH")
	assert.Equal(t, 4, vv.ValidCount())
	assert.Zero(t, vh.ValidCount())
}

func TestCompositeGridMismatch(t *testing.T) {
	o := raster.Observation{Captured: daysAfter(1), Raster: raster.New(raster.Grid{Width: 3, Height: 3}, "VV")}
	_, err := Aggregator{}.Composite(raster.SensorRadar, testGrid, []string{"VV"}, TimeInterval{}, []raster.Observation{o})
	assert.True(t, errors.Is(err, ErrGridMismatch))
}

func TestAggregateAssignsByHalfOpenInterval(t *testing.T) {
	intervals, err := GenerateIntervals(seriesStart, daysAfter(30), 10)
	require.NoError(t, err)

	obs := []raster.Observation{
		obsAt(raster.SensorOptical, daysAfter(0), map[string][]float64{"B4": fill(100)}),
		obsAt(raster.SensorOptical, daysAfter(10), map[string][]float64{"B4": fill(200)}),
		obsAt(raster.SensorOptical, daysAfter(25), map[string][]float64{"B4": fill(300)}),
	}
	out, err := Aggregator{Workers: 3}.Aggregate(context.Background(), raster.SensorOptical, testGrid, []string{"B4"}, intervals, obs, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)

	for i, want := range []float64{100, 200, 300} {
		assert.Equal(t, 1, out[i].Contributors, "interval %d", i)
		b, _ := out[i].Band("B4")
		assert.Equal(t, fill(want), b.Values)
		assert.Equal(t, intervals[i], out[i].Interval)
	}
}

func TestAggregateToleranceWidensMembership(t *testing.T) {
	intervals, err := GenerateIntervals(seriesStart, daysAfter(20), 10)
	require.NoError(t, err)
	obs := []raster.Observation{obsAt(raster.SensorRadar, daysAfter(10).Add(-time.Hour), map[string][]float64{"VV": fill(1)})}

	strict := AssignObservations(obs, intervals, 0)
	assert.Len(t, strict[0], 1)
	assert.Empty(t, strict[1])

	widened := AssignObservations(obs, intervals, 2*time.Hour)
	assert.Len(t, widened[0], 1)
	assert.Len(t, widened[1], 1)
}

func TestAggregateSetsLengthMismatch(t *testing.T) {
	_, err := Aggregator{}.AggregateSets(context.Background(), raster.SensorRadar, testGrid, []string{"VV"}, make([]TimeInterval, 2), nil)
	assert.Error(t, err)
}
