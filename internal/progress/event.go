// Package progress defines the event stream emitted by crawl orchestration.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the milestone an Event represents.
type Kind string

// Supported progress event kinds.
const (
	KindJobCreated    Kind = "JOB_CREATED"
	KindJobFinished   Kind = "JOB_FINISHED"
	KindJobFailed     Kind = "JOB_FAILED"
	KindRoundComplete Kind = "ROUND_COMPLETE"
	KindCrawlComplete Kind = "CRAWL_COMPLETE"
	KindCrawlFailed   Kind = "CRAWL_FAILED"
)

// Event captures one milestone in a crawl's lifecycle.
type Event struct {
	// Kind denotes which milestone occurred.
	Kind Kind
	// CrawlID identifies the crawl the event belongs to.
	CrawlID string
	// ConfID is the configuration identity the crawl runs under.
	ConfID string
	// JobID identifies the remote job for job-scoped kinds.
	JobID string
	// Stage is the pipeline stage of the job, e.g. GENERATE.
	Stage string
	// State is the remote execution state observed, e.g. FINISHED.
	State string
	// Round is the 1-based round the event occurred in.
	Round int
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Round < 0 {
		return errors.New("round must be >= 0")
	}
	switch e.Kind {
	case KindJobCreated, KindJobFinished, KindJobFailed:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Kind)
		}
		if e.Stage == "" {
			return fmt.Errorf("%s requires stage", e.Kind)
		}
	case KindRoundComplete, KindCrawlComplete, KindCrawlFailed:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
