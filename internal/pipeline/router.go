package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"senhts/internal/config"
	"senhts/internal/export"
	"senhts/internal/fsutil"
	"senhts/internal/raster"
	"senhts/internal/sources"
	"senhts/internal/storage"
	"senhts/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	cfg       *config.Config
	catalog   catalogStore
	stacks    export.StackStore
	harmonize harmonizeFunc
	quicklook quicklookFunc
}

type catalogStore interface {
	InsertObservation(ctx context.Context, obs raster.Observation, sourcePath string) (int64, bool, error)
}

type harmonizeFunc func(ctx context.Context, req tasks.Request) (tasks.Result, error)

type quicklookFunc func(s tasks.OutputStack, vis export.Visualization, path string) error

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	radarSrc := sources.NewRadar(store, cfg.Radar)
	logger.LogAttrs(context.Background(), slog.LevelDebug, "radar source configured", radarSrc.LogAttrs()...)
	radar := sources.WithBreaker(radarSrc, sources.BreakerFromConfig("radar", cfg.Breaker, logger))
	optical := sources.WithBreaker(sources.NewOptical(store, cfg.Optical), sources.BreakerFromConfig("optical", cfg.Breaker, logger))
	h := tasks.NewHarmonizer(radar, optical, cfg.Processing.IntervalWorkers, logger)
	return &router{
		log:       logger,
		cfg:       cfg,
		catalog:   store,
		stacks:    store,
		harmonize: h.Build,
		quicklook: export.Quicklook,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobBuild:
		return r.handleBuild(ctx, job)
	case JobSample:
		return r.handleSample(ctx, job)
	case JobIngest:
		return r.handleIngest(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleBuild(ctx context.Context, job Job) Result {
	req, err := BuildRequest(r.cfg, job.Options)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	res, err := r.harmonize(ctx, req)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	degraded := make(map[string]any, len(res.Degraded))
	for sensor, idx := range res.Degraded {
		if len(idx) > 0 {
			degraded[string(sensor)] = idx
		}
	}
	meta := map[string]any{
		"intervals":     len(res.Intervals),
		"aligned":       len(res.Stack.Intervals),
		"bands":         res.Stack.Len(),
		"mismatches":    len(res.Mismatches),
		"degraded":      degraded,
		"radar_obs":     res.Observations[raster.SensorRadar],
		"optical_obs":   res.Observations[raster.SensorOptical],
		"build_seconds": res.Duration.Seconds(),
	}
	if res.Stack.Len() == 0 {
		return Result{Job: job, Error: errors.New("no interval had both radar and optical composites"), Meta: meta}
	}
	if optBool(job.Options, "dry_run") {
		return Result{Job: job, Meta: meta}
	}

	asset := export.Asset{
		Store:     r.stacks,
		AssetID:   optString(job.Options, "asset_id", r.cfg.Export.AssetID),
		Scale:     r.cfg.Export.Scale,
		MaxPixels: r.cfg.Export.MaxPixels,
	}
	rec, err := asset.Export(ctx, job.ID, job.ID, res.Stack, req.Transform)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}
	meta["stack_id"] = rec.ID
	meta["asset_id"] = rec.AssetID

	if path := optString(job.Options, "quicklook", job.Output); path != "" && r.quicklook != nil {
		vis := export.DefaultVisualization
		if bands := optStrings(job.Options, "vis_bands", nil); len(bands) == 3 {
			copy(vis.Bands[:], bands)
		}
		if err := r.quicklook(res.Stack, vis, path); err != nil {
			r.log.Warn("Quicklook failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			meta["quicklook_error"] = err.Error()
		} else {
			meta["quicklook"] = path
		}
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleSample(ctx context.Context, job Job) Result {
	stackID := optString(job.Options, "stack_id", "")
	if stackID == "" {
		return Result{Job: job, Error: errors.New("sample job needs a stack_id option")}
	}
	if job.Target == "" {
		return Result{Job: job, Error: errors.New("sample job needs a points file")}
	}
	stack, rec, err := export.Load(ctx, r.stacks, stackID)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	f, err := os.Open(job.Target)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	points, property, err := export.ReadPoints(f)
	f.Close()
	if err != nil {
		return Result{Job: job, Error: err}
	}

	output := job.Output
	if output == "" {
		output = filepath.Join(r.cfg.Paths.DefaultOutput, stackID+"_samples.csv")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Result{Job: job, Error: err}
	}
	out, err := os.Create(output)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	res, err := export.SamplePoints(out, stack, rec.Transform, points, property, optStrings(job.Options, "bands", nil)...)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	meta := map[string]any{
		"stack_id": stackID,
		"output":   output,
		"rows":     res.Rows,
		"skipped":  len(res.Skipped),
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleIngest(ctx context.Context, job Job) Result {
	paths := optStrings(job.Options, "paths", nil)
	if job.Target != "" {
		paths = append([]string{job.Target}, paths...)
	}
	if len(paths) == 0 {
		return Result{Job: job, Error: errors.New("ingest job needs at least one path")}
	}
	files, err := fsutil.ListBundles(paths...)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	var inserted, duplicates, failed int
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return Result{Job: job, Error: err}
		}
		obs, err := sources.LoadBundle(file)
		if err == nil {
			var added bool
			_, added, err = r.catalog.InsertObservation(ctx, obs, file)
			if added {
				inserted++
			} else if err == nil {
				duplicates++
			}
		}
		if err != nil {
			failed++
			r.log.Warn("Bundle rejected", slog.String("path", file), slog.String("error", err.Error()))
		}
	}

	meta := map[string]any{
		"files":      len(files),
		"inserted":   inserted,
		"duplicates": duplicates,
		"failed":     failed,
	}
	if len(files) > 0 && failed == len(files) {
		return Result{Job: job, Error: fmt.Errorf("all %d bundles failed to ingest", failed), Meta: meta}
	}
	return Result{Job: job, Meta: meta}
}
