package crawl

import (
	"context"
	"time"
)

// JobService is the job-execution capability of the remote service. The
// REST adapter implements it; tests substitute fakes.
type JobService interface {
	// CreateJob schedules one job and returns its remote identifier.
	CreateJob(ctx context.Context, req CreateJobRequest) (string, error)
	// GetJobStatus fetches the current status record for one job.
	GetJobStatus(ctx context.Context, id string) (JobInfo, error)
	// ListJobs returns the status records of every job the service knows
	// about, across all crawls sharing the server.
	ListJobs(ctx context.Context) ([]JobInfo, error)
	// StopJob asks the service to stop a job gracefully.
	StopJob(ctx context.Context, id string) error
	// AbortJob asks the service to kill a job.
	AbortJob(ctx context.Context, id string) error
}

// SeedService uploads seed URL lists so an INJECT job can read them.
type SeedService interface {
	// CreateSeed registers a named seed list and returns a reference to
	// the server-side directory holding it.
	CreateSeed(ctx context.Context, name string, urls []string) (SeedRef, error)
}

// ConfigService manages named configurations on the remote service.
type ConfigService interface {
	ListConfigs(ctx context.Context) ([]string, error)
	GetConfig(ctx context.Context, id string) (map[string]string, error)
	GetConfigParameter(ctx context.Context, id, param string) (string, error)
	// CreateConfig registers a configuration under the given id and returns
	// the id the service stored it as.
	CreateConfig(ctx context.Context, id string, params map[string]string) (string, error)
	DeleteConfig(ctx context.Context, id string) error
}

// AdminService exposes lifecycle operations of the remote service itself.
type AdminService interface {
	ServerStatus(ctx context.Context) (map[string]any, error)
	StopServer(ctx context.Context) error
}

// Clock abstracts wall-clock reads so time-dependent code stays testable.
type Clock interface {
	Now() time.Time
}

// Sleeper suspends the caller between status polls. Implementations must
// return the context's error without waiting out the duration when the
// context is canceled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
