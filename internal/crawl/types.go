package crawl

import (
	"context"
	"errors"
)

// Stage identifies one phase of the crawl pipeline.
type Stage string

// Pipeline stages in execution order. INJECT seeds the crawl database once;
// the remaining four repeat every round.
const (
	StageInject   Stage = "INJECT"
	StageGenerate Stage = "GENERATE"
	StageFetch    Stage = "FETCH"
	StageParse    Stage = "PARSE"
	StageUpdateDB Stage = "UPDATEDB"
)

// stageOrder lists the legal stages in pipeline order.
var stageOrder = []Stage{StageInject, StageGenerate, StageFetch, StageParse, StageUpdateDB}

// stageSuccessor maps each stage to the one created after it finishes.
// UPDATEDB has no successor inside a round; the orchestrator decides whether
// a new round opens with GENERATE.
var stageSuccessor = map[Stage]Stage{
	StageInject:   StageGenerate,
	StageGenerate: StageFetch,
	StageFetch:    StageParse,
	StageParse:    StageUpdateDB,
}

// Stages returns the legal pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage converts a wire value into a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", &InvalidStageError{Stage: stage}
	}
	return stage, nil
}

// Valid reports whether s is one of the legal pipeline stages.
func (s Stage) Valid() bool {
	switch s {
	case StageInject, StageGenerate, StageFetch, StageParse, StageUpdateDB:
		return true
	}
	return false
}

// JobState is the remote service's view of a job's execution state. The
// service may report values outside the constants below; anything that is
// not RUNNING or FINISHED is treated as a failure by the orchestrator.
type JobState string

const (
	StateIdle     JobState = "IDLE"
	StateRunning  JobState = "RUNNING"
	StateFinished JobState = "FINISHED"
	StateFailed   JobState = "FAILED"
	StateStopping JobState = "STOPPING"
	StateKilled   JobState = "KILLED"
)

// JobInfo is the remote service's status record for one job.
type JobInfo struct {
	ID      string         `json:"id"`
	Type    Stage          `json:"type"`
	State   JobState       `json:"state"`
	CrawlID string         `json:"crawlId"`
	ConfID  string         `json:"confId"`
	Msg     string         `json:"msg,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// CreateJobRequest carries everything the remote service needs to schedule
// one job.
type CreateJobRequest struct {
	CrawlID string         `json:"crawlId"`
	ConfID  string         `json:"confId"`
	Type    Stage          `json:"type"`
	Args    map[string]any `json:"args"`
}

// SeedRef identifies a seed list previously uploaded to the remote service.
// Dir is the server-side directory the INJECT stage reads from.
type SeedRef struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

// Job is a handle to one remote unit of work. It carries identity only;
// execution state lives on the remote service and Info re-queries it on
// every call.
type Job struct {
	ID      string `json:"id"`
	Stage   Stage  `json:"stage"`
	CrawlID string `json:"crawlId"`
	ConfID  string `json:"confId"`

	svc JobService
}

// errNoService reports a Job handle that was built without a service
// binding, e.g. by zero-value construction.
var errNoService = errors.New("job handle has no service binding")

// Info fetches the job's current status record from the remote service.
func (j Job) Info(ctx context.Context) (JobInfo, error) {
	if j.svc == nil {
		return JobInfo{}, errNoService
	}
	return j.svc.GetJobStatus(ctx, j.ID)
}

// State fetches the job's current execution state from the remote service.
func (j Job) State(ctx context.Context) (JobState, error) {
	info, err := j.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.State, nil
}

// Stop asks the remote service to stop the job gracefully.
func (j Job) Stop(ctx context.Context) error {
	if j.svc == nil {
		return errNoService
	}
	return j.svc.StopJob(ctx, j.ID)
}

// Abort asks the remote service to kill the job.
func (j Job) Abort(ctx context.Context) error {
	if j.svc == nil {
		return errNoService
	}
	return j.svc.AbortJob(ctx, j.ID)
}

// Crawl tracks one multi-round campaign's position in the pipeline.
// CurrentRound is 1-based; a fresh crawl starts at round 1 with its INJECT
// job in flight. CurrentJob is nil once the crawl has terminated.
type Crawl struct {
	CrawlID      string
	ConfID       string
	CurrentRound int
	TotalRounds  int
	CurrentJob   *Job
}
