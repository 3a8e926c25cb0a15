package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlops/crawlpilot/internal/journal"
	jmemory "github.com/crawlops/crawlpilot/internal/journal/memory"
	"github.com/crawlops/crawlpilot/internal/runner"
)

func seedJournal(t *testing.T, store *jmemory.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	runs := []journal.JobRun{
		{JobID: "job-1", CrawlID: "crawl-a", ConfID: "default", Stage: "INJECT", Round: 1, StartedAt: base},
		{JobID: "job-2", CrawlID: "crawl-a", ConfID: "default", Stage: "GENERATE", Round: 1, StartedAt: base.Add(time.Minute)},
		{JobID: "job-3", CrawlID: "crawl-b", ConfID: "default", Stage: "INJECT", Round: 1, StartedAt: base.Add(2 * time.Minute)},
	}
	for _, run := range runs {
		require.NoError(t, store.StartJobRun(ctx, run))
	}
	note := "fetch quota exceeded"
	require.NoError(t, store.FinishJobRun(ctx, "job-1", base.Add(time.Hour), journal.RunError, &note))
}

func TestListJobRuns(t *testing.T) {
	t.Parallel()

	store := jmemory.New()
	f := newFixture(t, fixtureOptions{journal: store})
	seedJournal(t, store)

	rec := f.do(t, http.MethodGet, "/v1/history/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs, ok := decodeBody(t, rec)["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 3)
	first, ok := runs[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "job-1", first["job_id"])
	require.Equal(t, "error", first["status"])

	rec = f.do(t, http.MethodGet, "/v1/history/jobs?crawl_id=crawl-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs, ok = decodeBody(t, rec)["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 2)

	rec = f.do(t, http.MethodGet, "/v1/history/jobs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs, ok = decodeBody(t, rec)["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
}

func TestListJobRunsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOptions{journal: jmemory.New()})

	rec := f.do(t, http.MethodGet, "/v1/history/jobs?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/history/jobs?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/history/jobs?limit=-5", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobRun(t *testing.T) {
	t.Parallel()

	store := jmemory.New()
	f := newFixture(t, fixtureOptions{journal: store})
	seedJournal(t, store)

	rec := f.do(t, http.MethodGet, "/v1/history/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run, ok := decodeBody(t, rec)["run"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "job-1", run["job_id"])
	require.Equal(t, "crawl-a", run["crawl_id"])
	require.Equal(t, "INJECT", run["stage"])
	require.Equal(t, "error", run["status"])
	require.Equal(t, "fetch quota exceeded", run["note"])
	require.NotEmpty(t, run["finished_at"])

	rec = f.do(t, http.MethodGet, "/v1/history/jobs/job-ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryWithoutJournal(t *testing.T) {
	t.Parallel()

	svc := newFakeJobService()
	run, err := runner.New(runner.Config{Service: svc})
	require.NoError(t, err)
	srv, err := NewServer(run, svc, nil, nil, Config{}, nil)
	require.NoError(t, err)

	for _, target := range []string{"/v1/history/jobs", "/v1/history/jobs/job-1"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
}
