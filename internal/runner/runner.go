// Package runner owns the crawls a control-plane process executes. Each
// submission runs the full stage pipeline in its own goroutine; the runner
// tracks status snapshots, relays stop and round-extension requests, and
// archives the final report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crawlops/crawlpilot/internal/clock/system"
	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/id/uuid"
	"github.com/crawlops/crawlpilot/internal/metrics"
	"github.com/crawlops/crawlpilot/internal/progress"
	"github.com/crawlops/crawlpilot/internal/report"
	"github.com/crawlops/crawlpilot/internal/seed"
)

// archiveTimeout bounds report archiving after a crawl ends. Archiving runs
// on a fresh context because the run context is already canceled when a
// crawl was stopped.
const archiveTimeout = 30 * time.Second

// stopJobTimeout bounds the remote stop call issued by Stop.
const stopJobTimeout = 10 * time.Second

var (
	// ErrClosed rejects submissions after Shutdown has begun.
	ErrClosed = errors.New("runner is shut down")
	// ErrBusy rejects submissions while MaxConcurrent crawls are running.
	ErrBusy = errors.New("crawl concurrency limit reached")
	// ErrNotFound reports a crawl id the runner is not tracking.
	ErrNotFound = errors.New("crawl not tracked")
	// ErrDuplicate reports a crawl id that is already tracked.
	ErrDuplicate = errors.New("crawl id already tracked")
	// ErrFinished reports a control request against a crawl that has
	// already reached a terminal state.
	ErrFinished = errors.New("crawl already finished")
)

// Request describes one crawl submission.
type Request struct {
	// CrawlID names the crawl. Generated when empty.
	CrawlID string
	// ConfID is the remote configuration identity. Defaults to
	// crawl.DefaultConfID.
	ConfID string
	// Rounds is the round budget. Defaults to the runner's DefaultRounds.
	Rounds int
	// Seed is a seed list to upload before injecting. Optional when URLDir
	// names a server-side directory instead.
	Seed *seed.List
	// URLDir names a server-side seed directory to inject from.
	URLDir string
	// InjectArgs carries extra arguments for the INJECT job.
	InjectArgs map[string]any
	// Source tags where the submission came from, e.g. "api", "cli" or
	// "scheduler".
	Source string
}

// Config assembles a Runner. Service is required; zero values elsewhere take
// defaults.
type Config struct {
	// Service executes job operations on the remote crawl service.
	Service crawl.JobService
	// Seeds uploads seed lists. Required only for submissions that carry
	// one.
	Seeds *seed.Uploader
	// Hub receives progress events from every managed crawl. Optional.
	Hub progress.Emitter
	// Archiver persists final crawl reports. Optional.
	Archiver *report.Archiver
	// DefaultRounds applies when a submission sets no budget. Defaults
	// to 1.
	DefaultRounds int
	// PollInterval is handed to each orchestrator. Defaults to
	// crawl.DefaultPollInterval.
	PollInterval time.Duration
	// MaxConcurrent caps simultaneously running crawls. 0 means no cap.
	MaxConcurrent int
	// Clock stamps events and generated ids. Defaults to UTC wall time.
	Clock crawl.Clock
	// Sleeper implements poll pauses. Defaults to the system sleeper.
	Sleeper crawl.Sleeper
	// IDs generates crawl ids. Defaults to a fresh generator.
	IDs *uuid.Generator
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Runner launches and tracks crawls. Safe for concurrent use.
type Runner struct {
	cfg    Config
	logger *zap.Logger

	group errgroup.Group

	mu     sync.Mutex
	crawls map[string]*crawlRun
	closed bool
}

// New builds a Runner from cfg.
func New(cfg Config) (*Runner, error) {
	if cfg.Service == nil {
		return nil, errors.New("job service is required")
	}
	if cfg.DefaultRounds <= 0 {
		cfg.DefaultRounds = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = crawl.DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = system.NewSleeper()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	r := &Runner{
		cfg:    cfg,
		logger: logger,
		crawls: make(map[string]*crawlRun),
	}
	if cfg.MaxConcurrent > 0 {
		r.group.SetLimit(cfg.MaxConcurrent)
	}
	return r, nil
}

// Launch validates and admits a crawl, returning its id once the pipeline
// goroutine is scheduled. Seed upload and injection happen asynchronously;
// their failures surface through the crawl's status, not here.
func (r *Runner) Launch(req Request) (string, error) {
	if (req.Seed == nil || len(req.Seed.URLs) == 0) && req.URLDir == "" {
		return "", crawl.ErrMissingSeed
	}
	if req.Seed != nil && r.cfg.Seeds == nil {
		return "", errors.New("runner has no seed uploader")
	}
	crawlID := req.CrawlID
	if crawlID == "" {
		var err error
		crawlID, err = r.cfg.IDs.NewCrawlID(r.cfg.Clock.Now())
		if err != nil {
			return "", fmt.Errorf("generate crawl id: %w", err)
		}
	}
	if req.ConfID == "" {
		req.ConfID = crawl.DefaultConfID
	}
	if req.Rounds <= 0 {
		req.Rounds = r.cfg.DefaultRounds
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := newCrawlRun(crawlID, req.ConfID, req.Rounds, r.cfg.Clock.Now(), cancel)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	if _, exists := r.crawls[crawlID]; exists {
		r.mu.Unlock()
		cancel()
		return "", fmt.Errorf("crawl %s: %w", crawlID, ErrDuplicate)
	}
	r.crawls[crawlID] = run
	admitted := r.group.TryGo(func() error {
		r.execute(ctx, run, req)
		return nil
	})
	if !admitted {
		delete(r.crawls, crawlID)
		r.mu.Unlock()
		cancel()
		return "", ErrBusy
	}
	r.mu.Unlock()

	metrics.ObserveCrawlLaunched(sourceLabel(req.Source))
	r.logger.Info("crawl admitted",
		zap.String("crawl_id", crawlID),
		zap.String("conf_id", req.ConfID),
		zap.Int("rounds", req.Rounds),
		zap.String("source", sourceLabel(req.Source)),
	)
	return crawlID, nil
}

// Get returns the status snapshot of one tracked crawl.
func (r *Runner) Get(crawlID string) (Status, bool) {
	run, ok := r.get(crawlID)
	if !ok {
		return Status{}, false
	}
	return run.snapshot(), true
}

// List returns status snapshots of every tracked crawl, oldest first.
func (r *Runner) List() []Status {
	r.mu.Lock()
	runs := make([]*crawlRun, 0, len(r.crawls))
	for _, run := range r.crawls {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].CrawlID < out[j].CrawlID
	})
	return out
}

// Stop cancels a crawl's context and asks the remote service to stop its
// in-flight job. The crawl settles into the stopped state once its goroutine
// unwinds; a failed remote stop is logged but does not fail the request.
func (r *Runner) Stop(ctx context.Context, crawlID string) error {
	run, ok := r.get(crawlID)
	if !ok {
		return fmt.Errorf("crawl %s: %w", crawlID, ErrNotFound)
	}
	jobID, err := run.requestStop()
	if err != nil {
		return err
	}
	run.cancel()
	if jobID != "" {
		stopCtx, cancel := context.WithTimeout(ctx, stopJobTimeout)
		defer cancel()
		if err := r.cfg.Service.StopJob(stopCtx, jobID); err != nil {
			r.logger.Warn("remote job stop failed",
				zap.String("crawl_id", crawlID),
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}
	r.logger.Info("crawl stop requested",
		zap.String("crawl_id", crawlID),
		zap.String("job_id", jobID),
	)
	return nil
}

// AddRounds extends a tracked crawl's round budget by n. The extension is
// applied between rounds by the crawl's own goroutine; the returned total
// already includes extensions still waiting to be applied.
func (r *Runner) AddRounds(crawlID string, n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("rounds to add must be positive")
	}
	run, ok := r.get(crawlID)
	if !ok {
		return 0, fmt.Errorf("crawl %s: %w", crawlID, ErrNotFound)
	}
	total, err := run.addRounds(n)
	if err != nil {
		return 0, err
	}
	r.logger.Info("crawl round extension queued",
		zap.String("crawl_id", crawlID),
		zap.Int("added", n),
		zap.Int("total_rounds", total),
	)
	return total, nil
}

// Wait blocks until the crawl reaches a terminal state, then returns its
// final status.
func (r *Runner) Wait(ctx context.Context, crawlID string) (Status, error) {
	run, ok := r.get(crawlID)
	if !ok {
		return Status{}, fmt.Errorf("crawl %s: %w", crawlID, ErrNotFound)
	}
	select {
	case <-run.done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return Status{}, fmt.Errorf("wait for crawl %s: %w", crawlID, ctx.Err())
	}
}

// Shutdown rejects further submissions and waits for running crawls to end.
// When ctx expires first the remaining crawls are canceled and Shutdown
// still waits for their goroutines to unwind before returning the context's
// error.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	runs := make([]*crawlRun, 0, len(r.crawls))
	for _, run := range r.crawls {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, run := range runs {
			run.cancel()
		}
		<-done
		return fmt.Errorf("runner shutdown: %w", ctx.Err())
	}
}

// execute runs one crawl to its terminal state and records the outcome.
func (r *Runner) execute(ctx context.Context, run *crawlRun, req Request) {
	metrics.IncActiveCrawls()
	defer metrics.DecActiveCrawls()

	builder := report.NewBuilder(run.crawlID, req.ConfID, r.cfg.Clock)
	emitter := &statusEmitter{run: run, hub: r.cfg.Hub}

	runErr := r.pipeline(ctx, run, req, builder, emitter)

	state := StateSucceeded
	outcome := report.StatusSucceeded
	switch {
	case runErr == nil:
	case run.stopWasRequested() || errors.Is(runErr, context.Canceled):
		state = StateStopped
		outcome = report.StatusStopped
		runErr = nil
	default:
		state = StateFailed
		outcome = report.StatusFailed
		r.logger.Error("crawl failed",
			zap.String("crawl_id", run.crawlID),
			zap.Error(runErr),
		)
		failedRound := run.snapshot().Round
		if failedRound == 0 {
			failedRound = 1
		}
		emitter.Emit(progress.Event{
			Kind:    progress.KindCrawlFailed,
			CrawlID: run.crawlID,
			ConfID:  req.ConfID,
			Round:   failedRound,
			Note:    runErr.Error(),
			TS:      r.cfg.Clock.Now(),
		})
	}

	rep := builder.Finish(outcome, runErr)
	archiveCtx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	uri, err := r.cfg.Archiver.Archive(archiveCtx, rep)
	cancel()
	if err != nil {
		r.logger.Warn("crawl report archive failed",
			zap.String("crawl_id", run.crawlID),
			zap.Error(err),
		)
	}

	run.complete(state, runErr, uri, r.cfg.Clock.Now())
	r.logger.Info("crawl finished",
		zap.String("crawl_id", run.crawlID),
		zap.String("state", string(state)),
		zap.Int("rounds", len(rep.Rounds)),
		zap.Int("jobs", rep.TotalJobs),
		zap.String("report_uri", uri),
	)
}

// pipeline uploads the seed when one was submitted, then injects and
// drives the round loop. Round extensions queued through AddRounds are
// folded in between rounds.
func (r *Runner) pipeline(ctx context.Context, run *crawlRun, req Request, builder *report.Builder, emitter progress.Emitter) error {
	var seedRef *crawl.SeedRef
	if req.Seed != nil {
		ref, err := r.cfg.Seeds.Upload(ctx, *req.Seed)
		if err != nil {
			return err
		}
		seedRef = &ref
		builder.SetSeed(ref)
		run.setSeed(ref)
	}

	client, err := crawl.NewJobClient(r.cfg.Service, run.crawlID, req.ConfID, r.logger)
	if err != nil {
		return err
	}
	initial, err := client.Inject(ctx, seedRef, req.URLDir, req.InjectArgs)
	if err != nil {
		return fmt.Errorf("inject crawl %s: %w", run.crawlID, err)
	}
	emitter.Emit(progress.Event{
		Kind:    progress.KindJobCreated,
		CrawlID: run.crawlID,
		ConfID:  req.ConfID,
		JobID:   initial.ID,
		Stage:   string(initial.Stage),
		State:   string(crawl.StateRunning),
		Round:   1,
		TS:      r.cfg.Clock.Now(),
	})

	orch, err := crawl.NewOrchestrator(crawl.OrchestratorConfig{
		Client:       client,
		InitialJob:   initial,
		TotalRounds:  req.Rounds,
		PollInterval: r.cfg.PollInterval,
		Sleeper:      r.cfg.Sleeper,
		Clock:        r.cfg.Clock,
		Emitter:      emitter,
		Logger:       r.logger,
	})
	if err != nil {
		return err
	}

	for {
		run.applyPendingRounds(orch)
		if orch.CurrentRound() > orch.TotalRounds() {
			break
		}
		round := orch.CurrentRound()
		jobs, err := orch.NextRound(ctx)
		if err != nil {
			return err
		}
		builder.AddRound(round, jobs)
		run.setProgress(round, orch.TotalRounds())
	}
	emitter.Emit(progress.Event{
		Kind:    progress.KindCrawlComplete,
		CrawlID: run.crawlID,
		ConfID:  req.ConfID,
		Round:   orch.TotalRounds(),
		TS:      r.cfg.Clock.Now(),
	})
	return nil
}

func (r *Runner) get(crawlID string) (*crawlRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.crawls[crawlID]
	return run, ok
}

func sourceLabel(s string) string {
	if s == "" {
		return "manual"
	}
	return s
}
