package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/progress"
)

// DefaultPollInterval is the pause between job status polls when the
// orchestrator's configuration does not set one.
const DefaultPollInterval = 5 * time.Second

// Orchestrator drives one crawl through its stage and round pipeline. It
// owns the crawl's position state and keeps at most one job in flight.
//
// An Orchestrator is not safe for concurrent use. It takes no internal
// locks; callers that share one across goroutines must serialize access
// themselves.
type Orchestrator struct {
	client       *JobClient
	crawl        Crawl
	pollInterval time.Duration
	sleeper      Sleeper
	clock        Clock
	emitter      progress.Emitter
	logger       *zap.Logger

	// completed accumulates every job observed FINISHED since the crawl
	// started, in creation order.
	completed []Job
}

// OrchestratorConfig assembles an Orchestrator. Client and InitialJob are
// required; zero values elsewhere take defaults.
type OrchestratorConfig struct {
	// Client issues job operations under the crawl's identity.
	Client *JobClient
	// InitialJob is the job already in flight when orchestration begins,
	// normally the INJECT job returned by JobClient.Inject.
	InitialJob Job
	// TotalRounds is the round budget. Defaults to 1.
	TotalRounds int
	// PollInterval is the pause between status polls inside NextRound and
	// WaitAll. Defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Sleeper implements the poll pause. Defaults to a time.After sleeper.
	Sleeper Sleeper
	// Clock stamps progress events. Defaults to UTC wall time.
	Clock Clock
	// Emitter receives progress events. Optional.
	Emitter progress.Emitter
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewOrchestrator builds the state machine for a crawl whose INJECT job has
// already been created. The crawl starts at round 1 with InitialJob in
// flight.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, errors.New("job client is required")
	}
	if cfg.InitialJob.ID == "" {
		return nil, errors.New("initial job is required")
	}
	rounds := cfg.TotalRounds
	if rounds <= 0 {
		rounds = 1
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = waitSleeper{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = utcClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	initial := cfg.InitialJob
	return &Orchestrator{
		client: cfg.Client,
		crawl: Crawl{
			CrawlID:      cfg.Client.CrawlID(),
			ConfID:       cfg.Client.ConfID(),
			CurrentRound: 1,
			TotalRounds:  rounds,
			CurrentJob:   &initial,
		},
		pollInterval: interval,
		sleeper:      sleeper,
		clock:        clk,
		emitter:      cfg.Emitter,
		logger:       logger,
	}, nil
}

// CrawlID returns the crawl identity being orchestrated.
func (o *Orchestrator) CrawlID() string { return o.crawl.CrawlID }

// ConfID returns the configuration identity being orchestrated.
func (o *Orchestrator) ConfID() string { return o.crawl.ConfID }

// CurrentRound returns the 1-based round counter.
func (o *Orchestrator) CurrentRound() int { return o.crawl.CurrentRound }

// TotalRounds returns the crawl's current round budget.
func (o *Orchestrator) TotalRounds() int { return o.crawl.TotalRounds }

// CurrentJob returns a copy of the in-flight job, or nil once the crawl has
// terminated.
func (o *Orchestrator) CurrentJob() *Job {
	if o.crawl.CurrentJob == nil {
		return nil
	}
	job := *o.crawl.CurrentJob
	return &job
}

// Snapshot returns a copy of the crawl's position state.
func (o *Orchestrator) Snapshot() Crawl {
	snap := o.crawl
	if snap.CurrentJob != nil {
		job := *snap.CurrentJob
		snap.CurrentJob = &job
	}
	return snap
}

// AddRounds raises the round budget by n and returns the new total. It
// never disturbs the in-flight job or the round counter, so it is safe to
// call between polling steps at any point before the crawl completes.
// Non-positive n leaves the budget unchanged.
func (o *Orchestrator) AddRounds(n int) int {
	if n > 0 {
		o.crawl.TotalRounds += n
		o.logger.Info("extended crawl round budget",
			zap.String("crawl_id", o.crawl.CrawlID),
			zap.Int("added", n),
			zap.Int("total_rounds", o.crawl.TotalRounds),
		)
	}
	return o.crawl.TotalRounds
}

// Progress performs one polling step: it reads the in-flight job's state
// and reacts. A RUNNING job is left alone and returned again. A FINISHED
// job is recorded and its successor created. Any other state fails the
// crawl with a CrawlFailureError carrying every job completed so far.
//
// With advanceRound true a finished UPDATEDB opens the next round with a
// GENERATE job while rounds remain; with advanceRound false it ends the
// round and Progress returns nil. Once the crawl has terminated Progress
// keeps returning nil without contacting the service.
func (o *Orchestrator) Progress(ctx context.Context, advanceRound bool) (*Job, error) {
	if o.crawl.CurrentJob == nil {
		return nil, nil
	}
	current := *o.crawl.CurrentJob
	info, err := current.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll %s job %s: %w", current.Stage, current.ID, err)
	}
	switch info.State {
	case StateRunning:
		return o.CurrentJob(), nil
	case StateFinished:
		o.completed = append(o.completed, current)
		o.emit(progress.KindJobFinished, &current, info.State, "")
		return o.advance(ctx, current, advanceRound)
	default:
		o.emit(progress.KindJobFailed, &current, info.State, info.Msg)
		o.logger.Warn("crawl job ended abnormally",
			zap.String("crawl_id", o.crawl.CrawlID),
			zap.String("job_id", current.ID),
			zap.String("stage", string(current.Stage)),
			zap.String("state", string(info.State)),
		)
		return nil, &CrawlFailureError{
			FailedJob:     current,
			FailedState:   info.State,
			CompletedJobs: append([]Job(nil), o.completed...),
		}
	}
}

// advance creates the job that follows finished, or terminates the crawl
// when the pipeline and round budget are exhausted.
func (o *Orchestrator) advance(ctx context.Context, finished Job, advanceRound bool) (*Job, error) {
	next, ok := stageSuccessor[finished.Stage]
	if !ok {
		if !advanceRound || o.crawl.CurrentRound >= o.crawl.TotalRounds {
			o.crawl.CurrentJob = nil
			if !advanceRound {
				return nil, nil
			}
			o.emit(progress.KindCrawlComplete, nil, "", "")
			return nil, nil
		}
		o.crawl.CurrentRound++
		next = StageGenerate
	}
	job, err := o.client.Create(ctx, next, nil)
	if err != nil {
		return nil, err
	}
	o.crawl.CurrentJob = &job
	o.emit(progress.KindJobCreated, &job, StateRunning, "")
	return o.CurrentJob(), nil
}

// NextRound drives the pipeline until the current round's UPDATEDB job
// finishes, pausing the poll interval between status checks. It returns
// the jobs created during the call in creation order; a job already in
// flight on entry is polled but not collected. When no job is in flight it
// opens the round with a GENERATE job. On success the round counter
// advances by one.
//
// A job failure surfaces as a CrawlFailureError whose CompletedJobs is
// scoped to this round.
func (o *Orchestrator) NextRound(ctx context.Context) ([]Job, error) {
	return o.nextRound(ctx, len(o.completed))
}

// nextRound runs one round, scoping any CrawlFailureError's CompletedJobs
// to the jobs recorded at index scopeStart and later.
func (o *Orchestrator) nextRound(ctx context.Context, scopeStart int) ([]Job, error) {
	jobs := make([]Job, 0, 4)
	if o.crawl.CurrentJob == nil {
		job, err := o.client.Generate(ctx, nil)
		if err != nil {
			return nil, err
		}
		o.crawl.CurrentJob = &job
		o.emit(progress.KindJobCreated, &job, StateRunning, "")
		jobs = append(jobs, job)
	}
	lastID := o.crawl.CurrentJob.ID
	for o.crawl.CurrentJob != nil {
		current, err := o.Progress(ctx, false)
		if err != nil {
			return nil, o.scopeFailure(err, scopeStart)
		}
		if current == nil {
			break
		}
		if current.ID != lastID {
			jobs = append(jobs, *current)
			lastID = current.ID
		}
		if err := o.sleeper.Sleep(ctx, o.pollInterval); err != nil {
			return nil, fmt.Errorf("crawl %s: wait between polls: %w", o.crawl.CrawlID, err)
		}
	}
	o.emit(progress.KindRoundComplete, nil, "", "")
	o.logger.Info("crawl round complete",
		zap.String("crawl_id", o.crawl.CrawlID),
		zap.Int("round", o.crawl.CurrentRound),
		zap.Int("total_rounds", o.crawl.TotalRounds),
		zap.Int("jobs", len(jobs)),
	)
	o.crawl.CurrentRound++
	return jobs, nil
}

// WaitAll runs every remaining round and returns one job list per round.
// A failure in any round surfaces as a CrawlFailureError whose
// CompletedJobs spans the whole crawl.
func (o *Orchestrator) WaitAll(ctx context.Context) ([][]Job, error) {
	rounds := make([][]Job, 0, o.crawl.TotalRounds)
	for o.crawl.CurrentRound <= o.crawl.TotalRounds {
		jobs, err := o.nextRound(ctx, 0)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, jobs)
	}
	o.emit(progress.KindCrawlComplete, nil, "", "")
	return rounds, nil
}

// scopeFailure narrows a CrawlFailureError's CompletedJobs to the jobs
// recorded at index scopeStart and later. Other errors pass through.
func (o *Orchestrator) scopeFailure(err error, scopeStart int) error {
	var failure *CrawlFailureError
	if !errors.As(err, &failure) {
		return err
	}
	if scopeStart <= 0 {
		return err
	}
	return &CrawlFailureError{
		FailedJob:     failure.FailedJob,
		FailedState:   failure.FailedState,
		CompletedJobs: append([]Job(nil), o.completed[scopeStart:]...),
	}
}

func (o *Orchestrator) emit(kind progress.Kind, job *Job, state JobState, note string) {
	if o.emitter == nil {
		return
	}
	event := progress.Event{
		Kind:    kind,
		CrawlID: o.crawl.CrawlID,
		ConfID:  o.crawl.ConfID,
		Round:   o.crawl.CurrentRound,
		TS:      o.clock.Now(),
		Note:    note,
	}
	if job != nil {
		event.JobID = job.ID
		event.Stage = string(job.Stage)
	}
	if state != "" {
		event.State = string(state)
	}
	o.emitter.Emit(event)
}

// waitSleeper pauses with time.After, honoring context cancellation.
type waitSleeper struct{}

func (waitSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// utcClock reads UTC wall time.
type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
