package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"senhts/internal/config"
	"senhts/internal/logging"
	"senhts/internal/storage"
)

// JobType enumerates supported job categories.
type JobType string

const (
	JobBuild  JobType = "build"
	JobSample JobType = "sample"
	JobIngest JobType = "ingest"
)

// ParseJobType validates a job type name.
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(s); t {
	case JobBuild, JobSample, JobIngest:
		return t, nil
	default:
		return "", errors.New("unknown job type: " + s)
	}
}

// JobStatus is the lifecycle state recorded for a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusRejected  JobStatus = "rejected"
)

// ErrQueueFull is returned by Submit when no worker slot is free.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single request. Target is the job input: a stack id, a
// points file or a bundle path depending on Type.
type Job struct {
	ID      string         `json:"id"`
	Type    JobType        `json:"type"`
	Target  string         `json:"target,omitempty"`
	Output  string         `json:"output,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Validate checks that the job can be queued.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	_, err := ParseJobType(string(j.Type))
	return err
}

func (j Job) record() storage.JobRecord {
	optsJSON, _ := json.Marshal(j.Options)
	return storage.JobRecord{
		ID:          j.ID,
		JobType:     string(j.Type),
		Status:      string(StatusQueued),
		Target:      j.Target,
		OutputPath:  j.Output,
		OptionsJSON: string(optsJSON),
	}
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Status maps the outcome to its recorded lifecycle state.
func (r Result) Status() JobStatus {
	if r.Error != nil {
		return StatusFailed
	}
	return StatusSucceeded
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline queues jobs for a fixed set of workers, records each job's
// lifecycle in the store and fans results out to subscribers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	store     *storage.Store
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once

	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline whose workers route jobs against store and cfg.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, cfg *config.Config) *Pipeline {
	return newPipeline(ctx, concurrency, logger, store, newRouter(logger, store, cfg))
}

func newPipeline(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	concurrency = max(concurrency, 1)
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		store:     store,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		subs:      make(map[int]chan Result),
	}
	for i := range concurrency {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit validates job, records it as queued and hands it to a worker.
// A full queue marks the job rejected and returns ErrQueueFull.
func (p *Pipeline) Submit(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	_ = p.store.RecordJobQueued(job.record())

	select {
	case p.jobs <- job:
		return nil
	default:
		_ = p.store.RecordJobResult(job.ID, string(StatusRejected), nil, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.broadcast(p.run(ctx, id, job))
		}
	}
}

// run processes one job and records its outcome. A panicking processor
// fails the job instead of the worker.
func (p *Pipeline) run(ctx context.Context, worker int, job Job) (res Result) {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.Options)
	_ = p.store.RecordJobStart(job.ID)

	defer func() {
		if r := recover(); r != nil {
			res = Result{Job: job, Error: fmt.Errorf("job panicked: %v", r)}
		}
		duration := time.Since(start)
		if res.Error != nil {
			logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
				"target":  job.Target,
				"output":  job.Output,
				"worker":  worker,
				"options": job.Options,
			})
		} else {
			logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
		}
		_ = p.store.RecordJobResult(job.ID, string(res.Status()), res.Meta, errString(res.Error))
	}()

	return p.processor.Process(ctx, job)
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
