package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/progress"
	pubmemory "github.com/crawlops/crawlpilot/internal/publisher/memory"
	"github.com/crawlops/crawlpilot/internal/report"
	"github.com/crawlops/crawlpilot/internal/seed"
	blobmemory "github.com/crawlops/crawlpilot/internal/storage/memory"
)

const waitTimeout = 5 * time.Second

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	r, err := New(Config{Service: newFakeJobService()})
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestLaunchRunsCrawlToCompletion(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	seedSvc := &fakeSeedService{}
	store := blobmemory.NewBlobStore()
	pub := pubmemory.New()
	hub := &captureEmitter{}

	r, err := New(Config{
		Service:      svc,
		Seeds:        seed.NewUploader(seedSvc, zap.NewNop()),
		Hub:          hub,
		Archiver:     report.NewArchiver(store, pub, "crawl-events", zap.NewNop()),
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)

	id, err := r.Launch(Request{
		CrawlID: "crawl-night",
		ConfID:  "default",
		Rounds:  2,
		Seed:    &seed.List{Name: "news", URLs: []string{"https://example.com/a"}},
		Source:  "api",
	})
	require.NoError(t, err)
	require.Equal(t, "crawl-night", id)

	st := waitForCrawl(t, r, id)
	require.Equal(t, StateSucceeded, st.State)
	require.Equal(t, 2, st.Round)
	require.Equal(t, 2, st.TotalRounds)
	require.Empty(t, st.CurrentJobID)
	require.Empty(t, st.Error)
	require.NotNil(t, st.FinishedAt)
	require.NotNil(t, st.Seed)
	require.Equal(t, "news", st.Seed.Name)
	require.True(t, strings.HasPrefix(st.ReportURI, "memory://reports/"), st.ReportURI)

	require.Equal(t,
		[]crawl.Stage{
			crawl.StageInject,
			crawl.StageGenerate, crawl.StageFetch, crawl.StageParse, crawl.StageUpdateDB,
			crawl.StageGenerate, crawl.StageFetch, crawl.StageParse, crawl.StageUpdateDB,
		},
		svc.CreatedStages(),
	)
	created := svc.Created()
	require.Equal(t, seedSvc.lastDir(), created[0].Args["url_dir"])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-events", msgs[0].Topic)
	note, ok := msgs[0].Payload.(report.Notification)
	require.True(t, ok)
	require.Equal(t, "crawl-night", note.CrawlID)
	require.Equal(t, report.StatusSucceeded, note.Status)
	require.Equal(t, 2, note.Rounds)
	require.Equal(t, 9, note.TotalJobs)

	counts := hub.counts()
	require.Equal(t, 9, counts[progress.KindJobCreated])
	require.Equal(t, 9, counts[progress.KindJobFinished])
	require.Equal(t, 2, counts[progress.KindRoundComplete])
	require.Equal(t, 1, counts[progress.KindCrawlComplete])

	list := r.List()
	require.Len(t, list, 1)
	require.Equal(t, "crawl-night", list[0].CrawlID)
}

func TestLaunchGeneratesCrawlID(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	r := newTestRunner(t, Config{Service: svc, PollInterval: time.Millisecond})

	id, err := r.Launch(Request{URLDir: "urls/manual"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "crawl-"), id)

	st := waitForCrawl(t, r, id)
	require.Equal(t, StateSucceeded, st.State)
	require.Equal(t, crawl.DefaultConfID, st.ConfID)
	require.Equal(t, 1, st.TotalRounds)
	require.Empty(t, st.ReportURI)
}

func TestLaunchValidation(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	r := newTestRunner(t, Config{Service: svc, PollInterval: time.Millisecond})

	_, err := r.Launch(Request{})
	require.ErrorIs(t, err, crawl.ErrMissingSeed)

	_, err = r.Launch(Request{Seed: &seed.List{URLs: []string{"https://example.com"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "seed uploader")

	id, err := r.Launch(Request{CrawlID: "crawl-dup", URLDir: "urls/manual"})
	require.NoError(t, err)
	waitForCrawl(t, r, id)

	_, err = r.Launch(Request{CrawlID: "crawl-dup", URLDir: "urls/manual"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestUnknownCrawlOperations(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{Service: newFakeJobService()})

	_, ok := r.Get("crawl-ghost")
	require.False(t, ok)

	require.ErrorIs(t, r.Stop(context.Background(), "crawl-ghost"), ErrNotFound)

	_, err := r.AddRounds("crawl-ghost", 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.AddRounds("crawl-ghost", 0)
	require.Error(t, err)

	_, err = r.Wait(context.Background(), "crawl-ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCrawlFailureSurfacesInStatus(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	svc.setStageStates(crawl.StageParse, crawl.StateFailed)
	store := blobmemory.NewBlobStore()
	pub := pubmemory.New()
	hub := &captureEmitter{}

	r := newTestRunner(t, Config{
		Service:      svc,
		Archiver:     report.NewArchiver(store, pub, "crawl-events", zap.NewNop()),
		Hub:          hub,
		PollInterval: time.Millisecond,
	})

	id, err := r.Launch(Request{CrawlID: "crawl-bad", URLDir: "urls/manual"})
	require.NoError(t, err)

	st := waitForCrawl(t, r, id)
	require.Equal(t, StateFailed, st.State)
	require.Contains(t, st.Error, "ended in state FAILED")
	require.NotEmpty(t, st.ReportURI)

	failures := hub.byKind(progress.KindCrawlFailed)
	require.Len(t, failures, 1)
	require.Equal(t, "crawl-bad", failures[0].CrawlID)
	require.Equal(t, 1, failures[0].Round)
	require.Contains(t, failures[0].Note, "ended in state FAILED")

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	note, ok := msgs[0].Payload.(report.Notification)
	require.True(t, ok)
	require.Equal(t, report.StatusFailed, note.Status)
}

func TestStopSettlesCrawlStopped(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	svc.setStageStates(crawl.StageInject, crawl.StateRunning)
	r := newTestRunner(t, Config{Service: svc, PollInterval: time.Millisecond})

	id, err := r.Launch(Request{CrawlID: "crawl-halt", URLDir: "urls/manual"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := r.Get(id)
		return ok && st.CurrentJobID != ""
	}, waitTimeout, 2*time.Millisecond)

	require.NoError(t, r.Stop(context.Background(), id))

	st := waitForCrawl(t, r, id)
	require.Equal(t, StateStopped, st.State)
	require.Empty(t, st.Error)
	require.Equal(t, []string{"job-1"}, svc.Stopped())

	require.ErrorIs(t, r.Stop(context.Background(), id), ErrFinished)
}

func TestAddRoundsExtendsRunningCrawl(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	svc.setStageStates(crawl.StageUpdateDB, crawl.StateRunning)
	r := newTestRunner(t, Config{Service: svc, PollInterval: time.Millisecond})

	id, err := r.Launch(Request{CrawlID: "crawl-long", URLDir: "urls/manual", Rounds: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := r.Get(id)
		return ok && st.CurrentStage == string(crawl.StageUpdateDB)
	}, waitTimeout, 2*time.Millisecond)

	total, err := r.AddRounds(id, 1)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	svc.release(crawl.StageUpdateDB)

	st := waitForCrawl(t, r, id)
	require.Equal(t, StateSucceeded, st.State)
	require.Equal(t, 2, st.TotalRounds)
	require.Equal(t, 2, st.Round)
	// INJECT plus two full rounds.
	require.Len(t, svc.Created(), 9)

	_, err = r.AddRounds(id, 1)
	require.ErrorIs(t, err, ErrFinished)
}

func TestMaxConcurrentRejectsWhenFull(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	svc.setStageStates(crawl.StageInject, crawl.StateRunning)
	r := newTestRunner(t, Config{Service: svc, PollInterval: time.Millisecond, MaxConcurrent: 1})

	first, err := r.Launch(Request{CrawlID: "crawl-one", URLDir: "urls/manual"})
	require.NoError(t, err)

	_, err = r.Launch(Request{CrawlID: "crawl-two", URLDir: "urls/manual"})
	require.ErrorIs(t, err, ErrBusy)

	svc.release(crawl.StageInject)
	waitForCrawl(t, r, first)

	third, err := r.Launch(Request{CrawlID: "crawl-three", URLDir: "urls/manual"})
	require.NoError(t, err)
	st := waitForCrawl(t, r, third)
	require.Equal(t, StateSucceeded, st.State)
}

func TestShutdownCancelsStragglers(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	svc.setStageStates(crawl.StageInject, crawl.StateRunning)
	r := newTestRunner(t, Config{Service: svc, PollInterval: time.Millisecond})

	id, err := r.Launch(Request{CrawlID: "crawl-stuck", URLDir: "urls/manual"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := r.Get(id)
		return ok && st.State == StateRunning
	}, waitTimeout, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = r.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, StateStopped, st.State)

	_, err = r.Launch(Request{CrawlID: "crawl-late", URLDir: "urls/manual"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestShutdownIdleReturnsImmediately(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{Service: newFakeJobService()})
	require.NoError(t, r.Shutdown(context.Background()))
}

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func waitForCrawl(t *testing.T, r *Runner, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := r.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

// fakeJobService is a deterministic in-memory stand-in for the remote
// service. Jobs report the state sequence configured for their stage, one
// poll at a time; the final entry sticks and an empty sequence means
// FINISHED on first poll.
type fakeJobService struct {
	mu          sync.Mutex
	seq         int
	created     []crawl.CreateJobRequest
	infos       map[string]crawl.JobInfo
	stateQueues map[string][]crawl.JobState
	stageStates map[crawl.Stage][]crawl.JobState
	stopped     []string
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{
		infos:       make(map[string]crawl.JobInfo),
		stateQueues: make(map[string][]crawl.JobState),
		stageStates: make(map[crawl.Stage][]crawl.JobState),
	}
}

func (f *fakeJobService) CreateJob(_ context.Context, req crawl.CreateJobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("job-%d", f.seq)
	f.created = append(f.created, req)
	f.infos[id] = crawl.JobInfo{
		ID:      id,
		Type:    req.Type,
		State:   crawl.StateRunning,
		CrawlID: req.CrawlID,
		ConfID:  req.ConfID,
	}
	if states, ok := f.stageStates[req.Type]; ok {
		f.stateQueues[id] = append([]crawl.JobState(nil), states...)
	}
	return id, nil
}

func (f *fakeJobService) GetJobStatus(_ context.Context, id string) (crawl.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[id]
	if !ok {
		return crawl.JobInfo{}, &crawl.RemoteServiceError{Op: "job.status", Status: 404}
	}
	queue := f.stateQueues[id]
	switch len(queue) {
	case 0:
		info.State = crawl.StateFinished
	case 1:
		info.State = queue[0]
	default:
		info.State = queue[0]
		f.stateQueues[id] = queue[1:]
	}
	return info, nil
}

func (f *fakeJobService) ListJobs(context.Context) ([]crawl.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crawl.JobInfo, 0, len(f.infos))
	for _, info := range f.infos {
		out = append(out, info)
	}
	return out, nil
}

func (f *fakeJobService) StopJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeJobService) AbortJob(_ context.Context, _ string) error {
	return nil
}

// setStageStates swaps the poll sequence template for jobs created later.
func (f *fakeJobService) setStageStates(stage crawl.Stage, states ...crawl.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageStates[stage] = states
}

// release drops the stage's template and clears queues of its existing jobs
// so stuck jobs finish on the next poll.
func (f *fakeJobService) release(stage crawl.Stage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stageStates, stage)
	for id, info := range f.infos {
		if info.Type == stage {
			delete(f.stateQueues, id)
		}
	}
}

func (f *fakeJobService) Created() []crawl.CreateJobRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawl.CreateJobRequest(nil), f.created...)
}

func (f *fakeJobService) CreatedStages() []crawl.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	stages := make([]crawl.Stage, len(f.created))
	for i, req := range f.created {
		stages[i] = req.Type
	}
	return stages
}

func (f *fakeJobService) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

var _ crawl.JobService = (*fakeJobService)(nil)

// fakeSeedService records seed uploads and hands back server-side dirs.
type fakeSeedService struct {
	mu   sync.Mutex
	seq  int
	dirs []string
}

func (f *fakeSeedService) CreateSeed(_ context.Context, name string, _ []string) (crawl.SeedRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	dir := fmt.Sprintf("seeds/%s-%d", name, f.seq)
	f.dirs = append(f.dirs, dir)
	return crawl.SeedRef{Name: name, Dir: dir}, nil
}

func (f *fakeSeedService) lastDir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dirs) == 0 {
		return ""
	}
	return f.dirs[len(f.dirs)-1]
}

var _ crawl.SeedService = (*fakeSeedService)(nil)

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) counts() map[progress.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[progress.Kind]int)
	for _, evt := range c.events {
		counts[evt.Kind]++
	}
	return counts
}

func (c *captureEmitter) byKind(kind progress.Kind) []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []progress.Event
	for _, evt := range c.events {
		if evt.Kind == kind {
			matched = append(matched, evt)
		}
	}
	return matched
}
