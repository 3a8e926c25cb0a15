package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/progress"
)

// State is the lifecycle state of a managed crawl.
type State string

const (
	// StatePending covers the window between admission and the INJECT job
	// being created, seed upload included.
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateStopped:
		return true
	}
	return false
}

// Status is a point-in-time snapshot of one managed crawl.
type Status struct {
	CrawlID      string         `json:"crawl_id"`
	ConfID       string         `json:"conf_id"`
	State        State          `json:"state"`
	Round        int            `json:"round"`
	TotalRounds  int            `json:"total_rounds"`
	CurrentJobID string         `json:"current_job_id,omitempty"`
	CurrentStage string         `json:"current_stage,omitempty"`
	Seed         *crawl.SeedRef `json:"seed,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	ReportURI    string         `json:"report_uri,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// crawlRun is the runner's handle on one crawl goroutine. The goroutine owns
// the orchestrator exclusively; everything shared lives in status and the
// request flags, all guarded by mu.
type crawlRun struct {
	crawlID string
	cancel  context.CancelFunc
	done    chan struct{}

	mu            sync.Mutex
	status        Status
	pendingRounds int
	stopRequested bool
}

func newCrawlRun(crawlID, confID string, rounds int, startedAt time.Time, cancel context.CancelFunc) *crawlRun {
	return &crawlRun{
		crawlID: crawlID,
		cancel:  cancel,
		done:    make(chan struct{}),
		status: Status{
			CrawlID:     crawlID,
			ConfID:      confID,
			State:       StatePending,
			TotalRounds: rounds,
			StartedAt:   startedAt,
		},
	}
}

func (run *crawlRun) snapshot() Status {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.status
}

func (run *crawlRun) setSeed(ref crawl.SeedRef) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.status.Seed = &ref
}

// setProgress records the round that just completed and the current budget.
func (run *crawlRun) setProgress(round, total int) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.status.Round = round
	run.status.TotalRounds = total
}

// addRounds queues a round extension for the run goroutine to apply.
func (run *crawlRun) addRounds(n int) (int, error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.status.State.Terminal() {
		return 0, fmt.Errorf("crawl %s is %s: %w", run.crawlID, run.status.State, ErrFinished)
	}
	run.pendingRounds += n
	return run.status.TotalRounds + run.pendingRounds, nil
}

// applyPendingRounds folds queued extensions into the orchestrator. Called
// only from the run goroutine, between rounds.
func (run *crawlRun) applyPendingRounds(orch *crawl.Orchestrator) {
	run.mu.Lock()
	n := run.pendingRounds
	run.pendingRounds = 0
	run.mu.Unlock()
	if n <= 0 {
		return
	}
	total := orch.AddRounds(n)
	run.mu.Lock()
	run.status.TotalRounds = total
	run.mu.Unlock()
}

// requestStop marks the crawl as stopping and returns the in-flight job id.
func (run *crawlRun) requestStop() (string, error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.status.State.Terminal() {
		return "", fmt.Errorf("crawl %s is %s: %w", run.crawlID, run.status.State, ErrFinished)
	}
	run.stopRequested = true
	return run.status.CurrentJobID, nil
}

func (run *crawlRun) stopWasRequested() bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.stopRequested
}

// complete writes the terminal status and releases waiters.
func (run *crawlRun) complete(state State, runErr error, reportURI string, finishedAt time.Time) {
	run.mu.Lock()
	run.status.State = state
	run.status.CurrentJobID = ""
	run.status.CurrentStage = ""
	run.status.ReportURI = reportURI
	run.status.FinishedAt = &finishedAt
	if runErr != nil {
		run.status.Error = runErr.Error()
	}
	run.mu.Unlock()
	close(run.done)
}

// observe folds one progress event into the status snapshot. JOB_FINISHED
// and JOB_FAILED leave the job visible until its successor is created or the
// crawl settles.
func (run *crawlRun) observe(evt progress.Event) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if evt.Round > 0 {
		run.status.Round = evt.Round
	}
	switch evt.Kind {
	case progress.KindJobCreated:
		run.status.State = StateRunning
		run.status.CurrentJobID = evt.JobID
		run.status.CurrentStage = evt.Stage
	case progress.KindCrawlComplete:
		run.status.CurrentJobID = ""
		run.status.CurrentStage = ""
	}
}

// statusEmitter folds orchestration events into the run's status before
// relaying them to the shared hub.
type statusEmitter struct {
	run *crawlRun
	hub progress.Emitter
}

func (e *statusEmitter) Emit(evt progress.Event) {
	e.run.observe(evt)
	if e.hub != nil {
		e.hub.Emit(evt)
	}
}
