package tasks

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senhts/internal/logging"
	"senhts/internal/raster"
)

func catalogSource(obs ...raster.Observation) Source {
	return SourceFunc(func(_ context.Context, req FetchRequest) ([]raster.Observation, error) {
		var out []raster.Observation
		for _, o := range obs {
			if !o.Captured.Before(req.Start) && o.Captured.Before(req.End) {
				out = append(out, o)
			}
		}
		return out, nil
	})
}

func buildRequest() Request {
	return Request{
		Start:        seriesStart,
		End:          daysAfter(30),
		IntervalDays: 10,
		Grid:         testGrid,
		Transform:    raster.GeoTransform{CRS: raster.CRSWebMercator, PixelSize: 10},
		RadarBands:   []string{"VV"},
		OpticalBands: []string{"B4"},
	}
}

func quietHarmonizer(radar, optical Source) *Harmonizer {
	return NewHarmonizer(radar, optical, 2, logging.NewWithWriter(io.Discard, "debug", "json"))
}

func TestBuildEndToEnd(t *testing.T) {
	radar := catalogSource(
		obsAt(raster.SensorRadar, daysAfter(1), map[string][]float64{"VV": fill(-100)}),
		obsAt(raster.SensorRadar, daysAfter(11), map[string][]float64{"VV": fill(-200)}),
		obsAt(raster.SensorRadar, daysAfter(21), map[string][]float64{"VV": fill(-300)}),
	)
	optical := catalogSource(
		obsAt(raster.SensorOptical, daysAfter(2), map[string][]float64{"B4": fill(100)}),
		obsAt(raster.SensorOptical, daysAfter(22), map[string][]float64{"B4": fill(300)}),
	)

	res, err := quietHarmonizer(radar, optical).Build(context.Background(), buildRequest())
	require.NoError(t, err)

	assert.Len(t, res.Intervals, 3)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, 3, res.Observations[raster.SensorRadar])
	assert.Equal(t, 2, res.Observations[raster.SensorOptical])

	s := res.Stack
	assert.Equal(t, 9, s.Len())
	assert.Equal(t, []string{"VV", "B4", DayOffsetBand}, s.BaseBands)

	b4, ok := s.Band("B4_1")
	require.True(t, ok)
	assert.Equal(t, fill(200), b4.Values)
	doy, _ := s.Band("doy_2")
	assert.Equal(t, fill(20), doy.Values)
	for _, b := range s.Bands {
		assert.Equal(t, testGrid.Size(), b.ValidCount(), b.Name)
	}
}

func TestBuildSensorWithoutObservations(t *testing.T) {
	radar := catalogSource(obsAt(raster.SensorRadar, daysAfter(1), map[string][]float64{"VV": fill(-100)}))

	res, err := quietHarmonizer(radar, catalogSource()).Build(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.Equal(t, 9, res.Stack.Len())
	for i := range 3 {
		b4, ok := res.Stack.Band(BandName("B4", i))
		require.True(t, ok)
		assert.Equal(t, fill(Sentinel), b4.Values)
	}
	vv, _ := res.Stack.Band("VV_2")
	assert.Equal(t, fill(Sentinel), vv.Values, "interval 2 is outside the window of interval 0")
}

func TestBuildUpstreamFailure(t *testing.T) {
	failing := SourceFunc(func(context.Context, FetchRequest) ([]raster.Observation, error) {
		return nil, errors.New("catalog unavailable")
	})
	_, err := quietHarmonizer(failing, catalogSource()).Build(context.Background(), buildRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.Contains(t, err.Error(), "catalog unavailable")
}

func TestBuildPartialFetchDegrades(t *testing.T) {
	good := catalogSource(
		obsAt(raster.SensorRadar, daysAfter(1), map[string][]float64{"VV": fill(-100)}),
		obsAt(raster.SensorRadar, daysAfter(11), map[string][]float64{"VV": fill(-200)}),
	)
	flaky := SourceFunc(func(ctx context.Context, req FetchRequest) ([]raster.Observation, error) {
		if req.Start.Equal(daysAfter(10)) {
			return nil, errors.New("timeout")
		}
		return good.Fetch(ctx, req)
	})

	res, err := quietHarmonizer(flaky, catalogSource()).Build(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Degraded[raster.SensorRadar])
	assert.Empty(t, res.Degraded[raster.SensorOptical])

	vv, _ := res.Stack.Band("VV_1")
	assert.Equal(t, fill(-100), vv.Values)
}

func TestBuildToleranceWidensFetch(t *testing.T) {
	var windows []time.Time
	src := SourceFunc(func(_ context.Context, req FetchRequest) ([]raster.Observation, error) {
		return nil, nil
	})
	recorder := SourceFunc(func(ctx context.Context, req FetchRequest) ([]raster.Observation, error) {
		if req.Start.Before(seriesStart) {
			windows = append(windows, req.Start)
		}
		return src.Fetch(ctx, req)
	})

	req := buildRequest()
	req.Tolerance = 12 * time.Hour
	h := NewHarmonizer(recorder, src, 1, logging.NewWithWriter(io.Discard, "info", "text"))
	_, err := h.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{seriesStart.Add(-12 * time.Hour)}, windows)
}

func TestBuildRejectsInvalidRequests(t *testing.T) {
	h := quietHarmonizer(catalogSource(), catalogSource())
	for name, mutate := range map[string]func(*Request){
		"zero interval":  func(r *Request) { r.IntervalDays = 0 },
		"reversed range": func(r *Request) { r.Start, r.End = r.End, r.Start },
		"empty grid":     func(r *Request) { r.Grid = raster.Grid{} },
		"no crs":         func(r *Request) { r.Transform.CRS = "" },
		"no bands":       func(r *Request) { r.OpticalBands = nil },
		"shared band":    func(r *Request) { r.OpticalBands = []string{"B4", "VV"} },
		"repeated band":  func(r *Request) { r.RadarBands = []string{"VV", "VV"} },
		"reserved doy":   func(r *Request) { r.RadarBands, r.OpticalBands = []string{"doy"}, []string{"doy"} },
		"blank band":     func(r *Request) { r.OpticalBands = []string{""} },
		"huge interval":  func(r *Request) { r.IntervalDays = MaxSpanDays },
	} {
		req := buildRequest()
		mutate(&req)
		_, err := h.Build(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRange, name)
	}
}

func TestBuildWithoutSources(t *testing.T) {
	_, err := NewHarmonizer(nil, catalogSource(), 1, nil).Build(context.Background(), buildRequest())
	assert.ErrorIs(t, err, ErrUpstreamFetch)
}
