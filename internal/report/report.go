// Package report assembles crawl run summaries and archives them to blob
// storage, optionally announcing completion on a message topic.
package report

import (
	"errors"
	"sync"
	"time"

	"github.com/crawlops/crawlpilot/internal/crawl"
)

// Status is the terminal outcome of a crawl run.
type Status string

// Crawl outcomes recorded in reports and notifications.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// JobSummary is one pipeline job as it appears in a report.
type JobSummary struct {
	ID    string         `json:"id"`
	Stage crawl.Stage    `json:"stage"`
	State crawl.JobState `json:"state"`
	Round int            `json:"round"`
}

// RoundSummary groups the jobs of one pipeline round.
type RoundSummary struct {
	Round int          `json:"round"`
	Jobs  []JobSummary `json:"jobs"`
}

// CrawlReport is the archived summary of one crawl run.
type CrawlReport struct {
	CrawlID    string         `json:"crawl_id"`
	ConfID     string         `json:"conf_id"`
	SeedName   string         `json:"seed_name,omitempty"`
	SeedDir    string         `json:"seed_dir,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Rounds     []RoundSummary `json:"rounds"`
	FailedJob  *JobSummary    `json:"failed_job,omitempty"`
	TotalJobs  int            `json:"total_jobs"`
}

// Notification is the payload published when a report is archived.
type Notification struct {
	CrawlID    string    `json:"crawl_id"`
	Status     Status    `json:"status"`
	ReportURI  string    `json:"report_uri"`
	Rounds     int       `json:"rounds"`
	TotalJobs  int       `json:"total_jobs"`
	FinishedAt time.Time `json:"finished_at"`
}

// Builder collects round results while a crawl runs and produces the final
// CrawlReport.
type Builder struct {
	mu     sync.Mutex
	report CrawlReport
	clock  crawl.Clock
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewBuilder starts a report for one crawl, stamping the start time.
func NewBuilder(crawlID, confID string, clock crawl.Clock) *Builder {
	if clock == nil {
		clock = utcClock{}
	}
	return &Builder{
		report: CrawlReport{
			CrawlID:   crawlID,
			ConfID:    confID,
			StartedAt: clock.Now(),
		},
		clock: clock,
	}
}

// SetSeed records the seed list the crawl was injected from.
func (b *Builder) SetSeed(ref crawl.SeedRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.SeedName = ref.Name
	b.report.SeedDir = ref.Dir
}

// AddRound records the jobs one completed round produced.
func (b *Builder) AddRound(round int, jobs []crawl.Job) {
	summaries := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, JobSummary{
			ID:    job.ID,
			Stage: job.Stage,
			State: crawl.StateFinished,
			Round: round,
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Rounds = append(b.report.Rounds, RoundSummary{Round: round, Jobs: summaries})
}

// Finish stamps the end time and outcome and returns the report. When err
// wraps a crawl failure, the failed job is recorded against the round that
// was in flight.
func (b *Builder) Finish(status Status, err error) CrawlReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.report.FinishedAt = b.clock.Now()
	b.report.Status = status
	if err != nil {
		b.report.Error = err.Error()
		var failure *crawl.CrawlFailureError
		if errors.As(err, &failure) && failure.FailedJob.ID != "" {
			b.report.FailedJob = &JobSummary{
				ID:    failure.FailedJob.ID,
				Stage: failure.FailedJob.Stage,
				State: failure.FailedState,
				Round: len(b.report.Rounds) + 1,
			}
		}
	}

	total := 0
	for _, round := range b.report.Rounds {
		total += len(round.Jobs)
	}
	if b.report.FailedJob != nil {
		total++
	}
	b.report.TotalJobs = total

	return b.report
}
