// Package memory provides an in-memory journal for tests and single-process
// runs that do not need durable history.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crawlops/crawlpilot/internal/journal"
)

// Store implements journal.Store with a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	runs map[string]journal.JobRun
}

// New returns an empty in-memory journal.
func New() *Store {
	return &Store{runs: make(map[string]journal.JobRun)}
}

// StartJobRun records the run in status running.
func (s *Store) StartJobRun(_ context.Context, run journal.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Status = journal.RunRunning
	run.FinishedAt = nil
	run.Note = nil
	s.runs[run.JobID] = run
	return nil
}

// FinishJobRun marks the run terminal, inserting a bare row for unknown ids.
func (s *Store) FinishJobRun(
	_ context.Context,
	jobID string,
	finishedAt time.Time,
	status journal.RunStatus,
	note *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[jobID]
	if !ok {
		run = journal.JobRun{JobID: jobID, StartedAt: finishedAt}
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	if note != nil {
		text := *note
		run.Note = &text
	} else {
		run.Note = nil
	}
	s.runs[jobID] = run
	return nil
}

// GetJobRun returns one run or journal.ErrNotFound.
func (s *Store) GetJobRun(_ context.Context, jobID string) (journal.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[jobID]
	if !ok {
		return journal.JobRun{}, journal.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListJobRuns returns runs ordered by start time, oldest first.
func (s *Store) ListJobRuns(_ context.Context, crawlID string, limit int) ([]journal.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]journal.JobRun, 0, len(s.runs))
	for _, run := range s.runs {
		if crawlID != "" && run.CrawlID != crawlID {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].JobID < runs[j].JobID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func cloneRun(run journal.JobRun) journal.JobRun {
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		run.FinishedAt = &finished
	}
	if run.Note != nil {
		note := *run.Note
		run.Note = &note
	}
	return run
}
