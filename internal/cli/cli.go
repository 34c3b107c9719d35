package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"senhts/internal/config"
	"senhts/internal/export"
	"senhts/internal/grpcserver"
	"senhts/internal/pipeline"
	"senhts/internal/server"
	"senhts/internal/storage"
	"senhts/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, cfg config.Server, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

// defaultServe runs the HTTP API and, when an address is configured, the
// gRPC service until ctx is cancelled or either fails.
func defaultServe(ctx context.Context, cfg config.Server, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewServer(cfg.HTTPAddr, store, pipe, log).Start(ctx)
	})
	if cfg.GRPCAddr != "" {
		g.Go(func() error {
			return grpcserver.New(pipe, store, log).Start(ctx, cfg.GRPCAddr)
		})
	}
	return g.Wait()
}

// Root wires CLI commands to the pipeline and store.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	out      io.Writer
}

// NewRoot constructs the command root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		out:      os.Stdout,
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, errors.New("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "target", job.Target)
	return nil
}

// printMeta writes result metadata as sorted key: value lines.
func (r *Root) printMeta(title string, meta map[string]any) {
	fmt.Fprintf(r.out, "%s\n", title)
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "  %-14s %v\n", k+":", meta[k])
	}
}

func (r *Root) runBuild(ctx context.Context, opts map[string]any, output string) error {
	job := pipeline.Job{
		ID:      newID("build"),
		Type:    pipeline.JobBuild,
		Output:  output,
		Options: opts,
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	r.printMeta("Stack "+job.ID, res.Meta)
	return nil
}

func (r *Root) runIngest(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("ingest requires at least one file or directory")
	}
	job := pipeline.Job{
		ID:     newID("ingest"),
		Type:   pipeline.JobIngest,
		Target: paths[0],
	}
	if len(paths) > 1 {
		job.Options = map[string]any{"paths": paths[1:]}
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	r.printMeta("Ingested "+strings.Join(paths, ", "), res.Meta)
	return nil
}

// watchInbox queues an ingest job for every bundle settling in dirs until
// ctx is cancelled.
func (r *Root) watchInbox(ctx context.Context, dirs []string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	w, err := tasks.NewInboxWatcher(dirs, r.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()
	r.log.Info("watching inbox", "dirs", dirs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			job := pipeline.Job{ID: newID("ingest"), Type: pipeline.JobIngest, Target: ev.Path, Options: map[string]any{"source": "watch"}}
			if err := r.enqueue(ctx, job); err != nil {
				r.log.Warn("ingest not queued", "path", ev.Path, "error", err)
			}
		}
	}
}

func (r *Root) runSample(ctx context.Context, points, stackID, output string, bands []string) error {
	job := pipeline.Job{
		ID:      newID("sample"),
		Type:    pipeline.JobSample,
		Target:  points,
		Output:  output,
		Options: map[string]any{"stack_id": stackID},
	}
	if len(bands) > 0 {
		job.Options["bands"] = bands
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	r.printMeta("Samples from "+stackID, res.Meta)
	return nil
}

func (r *Root) runPreview(ctx context.Context, stackID, output string, vis export.Visualization) error {
	stack, _, err := export.Load(ctx, r.store, stackID)
	if err != nil {
		return err
	}
	if err := export.Quicklook(stack, vis, output); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Quicklook written to %s\n", output)
	return nil
}

func (r *Root) runChart(ctx context.Context, stackID, band string, col, row int, output string) error {
	stack, _, err := export.Load(ctx, r.store, stackID)
	if err != nil {
		return err
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := export.RenderChart(f, stack, stackID, band, col, row); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Chart written to %s\n", output)
	return nil
}

func (r *Root) listJobs(limit int) error {
	recs, err := r.store.RecentJobs(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(r.out, "No jobs recorded")
		return nil
	}
	for _, rec := range recs {
		line := fmt.Sprintf("%-40s %-7s %-10s %s", rec.ID, rec.JobType, rec.Status, rec.CreatedAt.Format(time.DateTime))
		if rec.Error != "" {
			line += "  " + rec.Error
		}
		fmt.Fprintln(r.out, line)
	}
	return nil
}

func (r *Root) listStacks(ctx context.Context, limit int) error {
	recs, err := r.store.ListStacks(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(r.out, "No stacks exported")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(r.out, "%-40s %-24s %4d bands %3d intervals %dx%d %s\n",
			rec.ID, rec.AssetID, rec.BandCount, len(rec.Intervals), rec.Grid.Width, rec.Grid.Height, rec.Transform.CRS)
	}
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}
