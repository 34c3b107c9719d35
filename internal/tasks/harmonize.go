package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"senhts/internal/logging"
	"senhts/internal/raster"
)

// FetchRequest asks a source for the observations captured in [Start, End)
// over the region described by Grid and Transform.
type FetchRequest struct {
	Sensor    raster.Sensor
	Start     time.Time
	End       time.Time
	Bands     []string
	Grid      raster.Grid
	Transform raster.GeoTransform
}

// Source supplies preprocessed observations for one sensor stream.
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) ([]raster.Observation, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req FetchRequest) ([]raster.Observation, error)

func (f SourceFunc) Fetch(ctx context.Context, req FetchRequest) ([]raster.Observation, error) {
	return f(ctx, req)
}

// Request describes one harmonized time series build.
type Request struct {
	Start        time.Time
	End          time.Time
	IntervalDays int
	// Tolerance widens each interval on both sides when collecting contributors.
	Tolerance time.Duration
	// Window is the gap-fill half-width. Zero means IntervalDays+1 days.
	Window        time.Duration
	DayOffsetBase DayOffsetBase
	Aggregation   AggregateKind
	Grid          raster.Grid
	Transform     raster.GeoTransform
	RadarBands    []string
	OpticalBands  []string
}

// Result is the output of a build.
type Result struct {
	Stack        OutputStack
	Intervals    []TimeInterval
	Mismatches   []JoinMismatch
	Degraded     map[raster.Sensor][]int
	Observations map[raster.Sensor]int
	Duration     time.Duration
}

// Harmonizer runs interval generation, aggregation, alignment, gap filling
// and stacking against a radar and an optical source.
type Harmonizer struct {
	Radar   Source
	Optical Source
	Workers int
	Log     *slog.Logger
}

// NewHarmonizer wires the two sensor sources.
func NewHarmonizer(radar, optical Source, workers int, logger *slog.Logger) *Harmonizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harmonizer{Radar: radar, Optical: optical, Workers: workers, Log: logger}
}

func (r Request) validate() error {
	if r.Grid.Empty() {
		return fmt.Errorf("%w: empty grid %dx%d", ErrInvalidRange, r.Grid.Width, r.Grid.Height)
	}
	if r.Transform.PixelSize <= 0 {
		return fmt.Errorf("%w: pixel size %g", ErrInvalidRange, r.Transform.PixelSize)
	}
	if r.Transform.CRS == "" {
		return fmt.Errorf("%w: grid has no crs", ErrInvalidRange)
	}
	if len(r.RadarBands) == 0 || len(r.OpticalBands) == 0 {
		return fmt.Errorf("%w: both sensors need at least one band", ErrInvalidRange)
	}
	if r.Tolerance < 0 || r.Window < 0 {
		return fmt.Errorf("%w: negative tolerance or window", ErrInvalidRange)
	}
	if r.IntervalDays >= MaxSpanDays {
		return fmt.Errorf("%w: interval length %d days", ErrInvalidRange, r.IntervalDays)
	}
	return checkBandNames(r.RadarBands, r.OpticalBands)
}

// checkBandNames rejects names that would collide once both sensors'
// bands and the day-offset band share one composite.
func checkBandNames(lists ...[]string) error {
	seen := map[string]bool{DayOffsetBand: true}
	for _, names := range lists {
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("%w: empty band name", ErrInvalidRange)
			}
			if seen[name] {
				return fmt.Errorf("%w: band %s requested twice or reserved", ErrInvalidRange, name)
			}
			seen[name] = true
		}
	}
	return nil
}

// Build produces the OutputStack for req. Structural problems and a source
// that fails for every interval abort before aggregation; a source failing
// for only some intervals leaves those intervals empty.
func (h *Harmonizer) Build(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	intervals, err := GenerateIntervals(req.Start, req.End, req.IntervalDays)
	if err != nil {
		return Result{}, err
	}
	if h.Radar == nil || h.Optical == nil {
		return Result{}, fmt.Errorf("%w: source not configured", ErrUpstreamFetch)
	}

	res := Result{
		Intervals:    intervals,
		Degraded:     make(map[raster.Sensor][]int),
		Observations: make(map[raster.Sensor]int),
	}

	logging.LogStageStart(h.Log, "fetch", map[string]any{"intervals": len(intervals)})
	radarSets, err := h.fetch(ctx, raster.SensorRadar, h.Radar, req, req.RadarBands, intervals, &res)
	if err != nil {
		return Result{}, err
	}
	opticalSets, err := h.fetch(ctx, raster.SensorOptical, h.Optical, req, req.OpticalBands, intervals, &res)
	if err != nil {
		return Result{}, err
	}

	agg := Aggregator{Kind: req.Aggregation, Geomedian: DefaultGeomedianOptions, Workers: h.Workers}
	logging.LogStageStart(h.Log, "aggregate", map[string]any{"kind": req.Aggregation.String()})
	radar, err := agg.AggregateSets(ctx, raster.SensorRadar, req.Grid, req.RadarBands, intervals, radarSets)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate radar: %w", err)
	}
	optical, err := agg.AggregateSets(ctx, raster.SensorOptical, req.Grid, req.OpticalBands, intervals, opticalSets)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate optical: %w", err)
	}

	aligned, mismatches, err := Align(radar, optical)
	if err != nil {
		return Result{}, err
	}
	for _, m := range mismatches {
		logging.LogJoinMismatch(h.Log, m.Interval.Label(), string(m.Missing))
	}
	res.Mismatches = mismatches

	window := req.Window
	if window == 0 {
		window = time.Duration(req.IntervalDays+1) * day
	}
	filler := GapFiller{Window: window, Reference: req.DayOffsetBase.Reference(req.Start), Workers: h.Workers}
	logging.LogStageStart(h.Log, "gapfill", map[string]any{"aligned": len(aligned), "window": window.String()})
	filled, err := filler.Fill(ctx, aligned)
	if err != nil {
		return Result{}, err
	}

	stack, err := Stack(filled)
	if err != nil {
		return Result{}, err
	}
	res.Stack = stack
	res.Duration = time.Since(started)
	logging.LogStageComplete(h.Log, "stack", res.Duration, map[string]any{
		"bands":     stack.Len(),
		"intervals": len(stack.Intervals),
	})
	return res, nil
}

// fetch collects each interval's contributors from src. A failed interval
// degrades to an empty set; if every interval fails the build is aborted.
func (h *Harmonizer) fetch(ctx context.Context, sensor raster.Sensor, src Source, req Request, bands []string, intervals []TimeInterval, res *Result) ([][]raster.Observation, error) {
	sets := make([][]raster.Observation, len(intervals))
	errs := make([]error, len(intervals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(h.Workers))
	for i, ti := range intervals {
		g.Go(func() error {
			obs, err := src.Fetch(gctx, FetchRequest{
				Sensor:    sensor,
				Start:     ti.Start.Add(-req.Tolerance),
				End:       ti.End.Add(req.Tolerance),
				Bands:     bands,
				Grid:      req.Grid,
				Transform: req.Transform,
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			sets[i] = obs
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		failed  []int
		lastErr error
		total   int
	)
	for i, err := range errs {
		if err != nil {
			failed = append(failed, i)
			lastErr = err
			logging.LogFetchDegraded(h.Log, string(sensor), intervals[i].Label(), err)
			continue
		}
		total += len(sets[i])
	}
	if len(failed) == len(intervals) {
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, sensor, lastErr)
	}
	res.Degraded[sensor] = failed
	res.Observations[sensor] = total
	return sets, nil
}
