package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"senhts/internal/config"
	"senhts/internal/export"
	"senhts/internal/pipeline"
	"senhts/internal/raster"
	"senhts/internal/storage"
	"senhts/internal/tasks"
)

func TestCommandsQueueJobs(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	temp := t.TempDir()

	cases := []struct {
		name       string
		args       []string
		expectType pipeline.JobType
	}{
		{"build", []string{"build", "--start", "2022-02-01", "--interval-days", "5", "--aggregation", "median"}, pipeline.JobBuild},
		{"ingest", []string{"ingest", temp}, pipeline.JobIngest},
		{"sample", []string{"sample", filepath.Join(temp, "points.csv"), "--stack", "st1"}, pipeline.JobSample},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fakePipe.reset()
			if err := execute(root, tc.args...); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			jobs := fakePipe.submitted()
			if len(jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(jobs))
			}
			if jobs[0].Type != tc.expectType {
				t.Fatalf("expected type %s, got %s", tc.expectType, jobs[0].Type)
			}
		})
	}
}

func TestBuildPassesOnlyChangedFlags(t *testing.T) {
	root, fakePipe, out := newTestRoot(t)

	if err := execute(root, "build", "--start", "2022-02-01", "--interval-days", "5", "--optical-bands", "B4,NDVI", "--dry-run"); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	job := fakePipe.submitted()[0]
	if job.Options["start"] != "2022-02-01" || job.Options["interval_days"] != 5 || job.Options["dry_run"] != true {
		t.Fatalf("unexpected options %v", job.Options)
	}
	if _, ok := job.Options["end"]; ok {
		t.Fatalf("unset end flag leaked into options: %v", job.Options)
	}
	if bands, _ := job.Options["optical_bands"].([]string); len(bands) != 2 {
		t.Fatalf("expected two optical bands, got %v", job.Options["optical_bands"])
	}
	if !strings.Contains(out.String(), "Stack "+job.ID) {
		t.Fatalf("expected stack summary in output %q", out.String())
	}
}

func TestIngestSplitsPaths(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	if err := execute(root, "ingest", "a.json", "b.json", "inbox"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	job := fakePipe.submitted()[0]
	if job.Target != "a.json" {
		t.Fatalf("expected first path as target, got %s", job.Target)
	}
	if paths, _ := job.Options["paths"].([]string); len(paths) != 2 || paths[1] != "inbox" {
		t.Fatalf("unexpected paths option %v", job.Options["paths"])
	}
	if err := execute(root, "ingest"); err == nil {
		t.Fatalf("expected error without paths")
	}
}

func TestSampleValidatesArguments(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	if err := execute(root, "sample", "points.csv"); err == nil {
		t.Fatalf("expected error for missing --stack")
	}
	if err := execute(root, "sample", "points.csv", "--stack", "st1", "--bands", "NDVI"); err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	job := fakePipe.submitted()[0]
	if job.Output != filepath.Join(root.cfg.Paths.DefaultOutput, "st1_samples.csv") {
		t.Fatalf("unexpected default output %s", job.Output)
	}
}

func TestEnqueueAndWaitPropagatesErrors(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	job := pipeline.Job{ID: "err-job", Type: pipeline.JobBuild}
	fakePipe.jobErrors["err-job"] = tasks.ErrUpstreamFetch
	if _, err := root.enqueueAndWait(context.Background(), job); !errors.Is(err, tasks.ErrUpstreamFetch) {
		t.Fatalf("expected error from pipeline result, got %v", err)
	}

	fakePipe.jobErrors[string(pipeline.JobBuild)] = tasks.ErrInvalidRange
	if err := execute(root, "build"); !errors.Is(err, tasks.ErrInvalidRange) {
		t.Fatalf("expected build command to fail, got %v", err)
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _, _ := newTestRoot(t)
	var got config.Server
	root.serveFn = func(ctx context.Context, cfg config.Server, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
		got = cfg
		return nil
	}
	if err := execute(root, "serve", "--addr", ":9999", "--grpc-addr", ""); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if got.HTTPAddr != ":9999" || got.GRPCAddr != "" {
		t.Fatalf("unexpected server config %+v", got)
	}
}

func TestConfigCommands(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := execute(root, "config", "show"); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"Interval days: 10", "Gap-fill window days: 11 (interval days + 1)", "Polarization: VVVH"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output %q", want, out.String())
		}
	}

	out.Reset()
	if err := execute(root, "config", "validate"); err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	root.cfg.Series.EndDate = "2021-01-01"
	if err := execute(root, "config", "validate"); err == nil {
		t.Fatalf("expected validation error for reversed range")
	}
}

func TestJobsAndStacksListing(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := execute(root, "jobs"); err != nil {
		t.Fatalf("jobs failed: %v", err)
	}
	if !strings.Contains(out.String(), "No jobs recorded") {
		t.Fatalf("expected empty job listing, got %q", out.String())
	}

	if err := root.store.RecordJobQueued(storage.JobRecord{ID: "build-1", JobType: "build", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	saveStack(t, root.store, "build-1")

	out.Reset()
	if err := execute(root, "jobs"); err != nil {
		t.Fatalf("jobs failed: %v", err)
	}
	if !strings.Contains(out.String(), "build-1") || !strings.Contains(out.String(), "queued") {
		t.Fatalf("expected job in listing, got %q", out.String())
	}

	out.Reset()
	if err := execute(root, "stacks"); err != nil {
		t.Fatalf("stacks failed: %v", err)
	}
	if !strings.Contains(out.String(), "4 bands") || !strings.Contains(out.String(), "2 intervals") {
		t.Fatalf("unexpected stacks listing %q", out.String())
	}
}

func TestChartWritesHTML(t *testing.T) {
	root, _, _ := newTestRoot(t)
	saveStack(t, root.store, "st1")
	output := filepath.Join(t.TempDir(), "chart.html")

	if err := execute(root, "chart", "st1", "--band", "NDVI", "--col", "1", "--output", output); err != nil {
		t.Fatalf("chart failed: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("expected chart file: %v", err)
	}
	if !strings.Contains(string(data), "2022-01-11") {
		t.Fatalf("expected interval labels in chart")
	}
	if err := execute(root, "chart", "missing", "--output", output); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPreviewNeedsThreeBands(t *testing.T) {
	root, _, _ := newTestRoot(t)
	if err := execute(root, "preview", "st1", "--bands", "NDVI_0,NDVI_1"); err == nil {
		t.Fatalf("expected error for two bands")
	}
}

func TestWatchQueuesIngestJobs(t *testing.T) {
	root, fakePipe, _ := newTestRoot(t)
	inbox := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.watchInbox(ctx, []string{inbox}) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(inbox, "s1.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(fakePipe.submitted()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned %v", err)
	}

	jobs := fakePipe.submitted()
	if len(jobs) != 1 {
		t.Fatalf("expected one ingest job, got %d", len(jobs))
	}
	if jobs[0].Type != pipeline.JobIngest || jobs[0].Target != path {
		t.Fatalf("unexpected job %+v", jobs[0])
	}
}

func TestVersion(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := execute(root, "version"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "senhts "+Version) {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

// Test helpers

func execute(root *Root, args ...string) error {
	cmd := newRootCmd(root)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Paths.DefaultOutput = filepath.Join(tmp, "output")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "senhts.db")
	cfg.Paths.InboxDir = filepath.Join(tmp, "inbox")

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pipe := newFakePipeline()
	out := &bytes.Buffer{}

	root := &Root{
		pipeline: pipe,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		out:      out,
	}
	return root, pipe, out
}

// saveStack persists a 2x1 stack of two intervals holding NDVI and doy.
func saveStack(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	g := raster.Grid{Width: 2, Height: 1}
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	filled := make([]tasks.FilledComposite, 2)
	for i := range filled {
		filled[i] = tasks.FilledComposite{
			Interval: tasks.TimeInterval{Index: i, Start: start.AddDate(0, 0, 10*i), End: start.AddDate(0, 0, 10*(i+1))},
			Raster: raster.Raster{Grid: g, Bands: []raster.Band{
				raster.ConstantBand("NDVI", g, float64(3000+1000*i)),
				raster.ConstantBand("doy", g, float64(10*i)),
			}},
		}
	}
	stack, err := tasks.Stack(filled)
	if err != nil {
		t.Fatal(err)
	}
	asset := export.Asset{Store: store, AssetID: "test", Scale: 10, MaxPixels: 1e6}
	if _, err := asset.Export(context.Background(), id, id, stack, raster.GeoTransform{CRS: raster.CRSWebMercator, PixelSize: 10}); err != nil {
		t.Fatal(err)
	}
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	err := f.errorFor(job)
	f.mu.Unlock()

	go func() {
		res := pipeline.Result{Job: job, Error: err, Meta: map[string]any{"ok": true}}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, ch := range f.subs {
			select {
			case ch <- res:
			default:
			}
		}
	}()
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 2)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) errorFor(job pipeline.Job) error {
	if err, ok := f.jobErrors[job.ID]; ok {
		return err
	}
	if err, ok := f.jobErrors[string(job.Type)]; ok {
		return err
	}
	return nil
}

func (f *fakePipeline) submitted() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Job(nil), f.jobs...)
}

func (f *fakePipeline) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = nil
	f.jobErrors = make(map[string]error)
}
