// Package journal defines the persistence contract for job-run records.
// It carries no driver imports; concrete implementations live in the
// journal/postgres and journal/memory subpackages so callers can depend on
// the interface without pulling in pgx.
package journal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a lookup for a job run the journal has never seen.
var ErrNotFound = errors.New("journal: job run not found")

// RunStatus captures the lifecycle state of a recorded job run.
type RunStatus string

// Supported run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// JobRun is one row of the crawl journal: a single remote job observed from
// creation to completion.
type JobRun struct {
	// JobID is the remote service's identifier for the job.
	JobID string
	// CrawlID and ConfID scope the run to a crawl identity.
	CrawlID string
	ConfID  string
	// Stage is the pipeline stage, e.g. FETCH.
	Stage string
	// Round is the 1-based crawl round the job ran in.
	Round int
	// StartedAt is when the job was created.
	StartedAt time.Time
	// FinishedAt is set once the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running until the job completes.
	Status RunStatus
	// Note holds error text for failed runs.
	Note *string
}

// Store records job runs. Implementations must be safe for concurrent use.
type Store interface {
	// StartJobRun records a newly created job. Recording the same job id
	// again refreshes the start data rather than failing.
	StartJobRun(ctx context.Context, run JobRun) error
	// FinishJobRun marks a run terminal. Finishing an unknown job id is not
	// an error; the journal inserts a bare terminal row so late events are
	// never lost.
	FinishJobRun(ctx context.Context, jobID string, finishedAt time.Time, status RunStatus, note *string) error
	// GetJobRun returns one run or ErrNotFound.
	GetJobRun(ctx context.Context, jobID string) (JobRun, error)
	// ListJobRuns returns runs ordered by start time, oldest first. An empty
	// crawlID lists every crawl; limit <= 0 means no limit.
	ListJobRuns(ctx context.Context, crawlID string, limit int) ([]JobRun, error)
}
