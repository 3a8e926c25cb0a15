package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/crawlops/crawlpilot/internal/crawl"
)

// fakeJobService is a deterministic in-memory stand-in for the remote
// service. Jobs report the state sequence configured for their stage, one
// poll at a time; the final entry sticks and an empty sequence means
// FINISHED on first poll.
type fakeJobService struct {
	mu          sync.Mutex
	seq         int
	infos       map[string]crawl.JobInfo
	order       []string
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
	f.infos[id] = crawl.JobInfo{
		ID:      id,
		Type:    req.Type,
		State:   crawl.StateRunning,
		CrawlID: req.CrawlID,
		ConfID:  req.ConfID,
	}
	f.order = append(f.order, id)
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
	out := make([]crawl.JobInfo, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.infos[id])
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

// addForeign registers a job owned by some other client of the shared
// remote server.
func (f *fakeJobService) addForeign(info crawl.JobInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[info.ID] = info
	f.order = append(f.order, info.ID)
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

var _ crawl.SeedService = (*fakeSeedService)(nil)

// fakeAdminService answers status pings until fail is called.
type fakeAdminService struct {
	mu  sync.Mutex
	err error
}

func (f *fakeAdminService) ServerStatus(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"startDate": 1700000000}, nil
}

func (f *fakeAdminService) StopServer(context.Context) error {
	return nil
}

func (f *fakeAdminService) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func adminOrNil(a *fakeAdminService) crawl.AdminService {
	if a == nil {
		return nil
	}
	return a
}

var _ crawl.AdminService = (*fakeAdminService)(nil)
