package crawl

import (
	"errors"
	"fmt"
)

// ErrMissingSeed reports an Inject call that supplied neither a seed
// reference nor a server-side URL directory.
var ErrMissingSeed = errors.New("inject requires a seed reference or a url directory")

// InvalidStageError reports a job request for a stage outside the legal
// pipeline set.
type InvalidStageError struct {
	Stage Stage
}

func (e *InvalidStageError) Error() string {
	return fmt.Sprintf("invalid crawl stage %q", string(e.Stage))
}

// ConflictingSeedError reports an Inject call whose seed reference and URL
// directory point at different server-side locations.
type ConflictingSeedError struct {
	SeedDir string
	URLDir  string
}

func (e *ConflictingSeedError) Error() string {
	return fmt.Sprintf("conflicting seed sources: seed directory %q, url directory %q", e.SeedDir, e.URLDir)
}

// RemoteServiceError reports a non-success response from the remote crawl
// service. Status is the HTTP status code; Body holds a snippet of the
// response payload when one was returned.
type RemoteServiceError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteServiceError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: remote service returned status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: remote service returned status %d", e.Op, e.Status)
}

// CrawlFailureError reports a job that reached a terminal state other than
// FINISHED. CompletedJobs lists the jobs that finished, in creation order,
// within the scope of the operation that observed the failure: a single
// round for NextRound, the whole crawl for Progress and WaitAll.
type CrawlFailureError struct {
	FailedJob     Job
	FailedState   JobState
	CompletedJobs []Job
}

func (e *CrawlFailureError) Error() string {
	return fmt.Sprintf("crawl %s: %s job %s ended in state %s after %d completed jobs",
		e.FailedJob.CrawlID, e.FailedJob.Stage, e.FailedJob.ID, e.FailedState, len(e.CompletedJobs))
}
