package crawl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultConfID is the configuration identity used when a crawl does not
// name one.
const DefaultConfID = "default"

// argURLDir is the job argument naming the seed directory an INJECT job
// reads from.
const argURLDir = "url_dir"

// JobClient scopes job lifecycle operations to one (crawlId, confId)
// identity on a shared remote service. Identity fields are fixed at
// construction; every request the client sends carries both.
type JobClient struct {
	svc     JobService
	crawlID string
	confID  string
	logger  *zap.Logger
}

// NewJobClient binds a client to a crawl identity. An empty confID falls
// back to DefaultConfID.
func NewJobClient(svc JobService, crawlID, confID string, logger *zap.Logger) (*JobClient, error) {
	if svc == nil {
		return nil, errors.New("job service is required")
	}
	if crawlID == "" {
		return nil, errors.New("crawl id is required")
	}
	if confID == "" {
		confID = DefaultConfID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobClient{
		svc:     svc,
		crawlID: crawlID,
		confID:  confID,
		logger:  logger,
	}, nil
}

// CrawlID returns the crawl identity the client is bound to.
func (c *JobClient) CrawlID() string { return c.crawlID }

// ConfID returns the configuration identity the client is bound to.
func (c *JobClient) ConfID() string { return c.confID }

// Service returns the underlying job-execution capability.
func (c *JobClient) Service() JobService { return c.svc }

// Create schedules one job of the given stage under the client's identity.
// The argument map sent to the service is assembled fresh on every call, so
// callers may reuse and mutate extra afterwards. Returns InvalidStageError
// for stages outside the legal set without contacting the service.
func (c *JobClient) Create(ctx context.Context, stage Stage, extra map[string]any) (Job, error) {
	if !stage.Valid() {
		return Job{}, &InvalidStageError{Stage: stage}
	}
	args := make(map[string]any, len(extra))
	for k, v := range extra {
		args[k] = v
	}
	req := CreateJobRequest{
		CrawlID: c.crawlID,
		ConfID:  c.confID,
		Type:    stage,
		Args:    args,
	}
	id, err := c.svc.CreateJob(ctx, req)
	if err != nil {
		return Job{}, fmt.Errorf("create %s job: %w", stage, err)
	}
	c.logger.Debug("created crawl job",
		zap.String("job_id", id),
		zap.String("stage", string(stage)),
		zap.String("crawl_id", c.crawlID),
		zap.String("conf_id", c.confID),
	)
	return Job{ID: id, Stage: stage, CrawlID: c.crawlID, ConfID: c.confID, svc: c.svc}, nil
}

// Inject schedules the INJECT job that seeds a crawl. Exactly one seed
// source must resolve: a previously uploaded seed list or a server-side URL
// directory. Both may be supplied only when they name the same directory.
func (c *JobClient) Inject(ctx context.Context, seed *SeedRef, urlDir string, extra map[string]any) (Job, error) {
	dir, err := resolveSeedDir(seed, urlDir)
	if err != nil {
		return Job{}, err
	}
	args := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		args[k] = v
	}
	args[argURLDir] = dir
	return c.Create(ctx, StageInject, args)
}

// resolveSeedDir picks the directory an INJECT job reads from.
func resolveSeedDir(seed *SeedRef, urlDir string) (string, error) {
	var seedDir string
	if seed != nil {
		seedDir = seed.Dir
	}
	switch {
	case seedDir == "" && urlDir == "":
		return "", ErrMissingSeed
	case seedDir != "" && urlDir != "" && seedDir != urlDir:
		return "", &ConflictingSeedError{SeedDir: seedDir, URLDir: urlDir}
	case seedDir != "":
		return seedDir, nil
	default:
		return urlDir, nil
	}
}

// Generate schedules a GENERATE job under the client's identity.
func (c *JobClient) Generate(ctx context.Context, extra map[string]any) (Job, error) {
	return c.Create(ctx, StageGenerate, extra)
}

// Fetch schedules a FETCH job under the client's identity.
func (c *JobClient) Fetch(ctx context.Context, extra map[string]any) (Job, error) {
	return c.Create(ctx, StageFetch, extra)
}

// Parse schedules a PARSE job under the client's identity.
func (c *JobClient) Parse(ctx context.Context, extra map[string]any) (Job, error) {
	return c.Create(ctx, StageParse, extra)
}

// UpdateDB schedules an UPDATEDB job under the client's identity.
func (c *JobClient) UpdateDB(ctx context.Context, extra map[string]any) (Job, error) {
	return c.Create(ctx, StageUpdateDB, extra)
}

// List returns handles for jobs known to the remote service. With
// includeForeign false only jobs whose crawlId and confId both match the
// client's identity are returned; a job sharing just one of the two fields
// belongs to a different crawl and is excluded.
func (c *JobClient) List(ctx context.Context, includeForeign bool) ([]Job, error) {
	infos, err := c.svc.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]Job, 0, len(infos))
	for _, info := range infos {
		if !includeForeign && !c.owns(info) {
			continue
		}
		jobs = append(jobs, Job{
			ID:      info.ID,
			Stage:   info.Type,
			CrawlID: info.CrawlID,
			ConfID:  info.ConfID,
			svc:     c.svc,
		})
	}
	return jobs, nil
}

// owns reports whether a job record belongs to the client's identity.
func (c *JobClient) owns(info JobInfo) bool {
	return info.CrawlID == c.crawlID && info.ConfID == c.confID
}
