package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/crawl"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// newTestClient wires a client to an httptest server whose behavior is
// supplied per-test. Requests are recorded for assertion.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	return client, &seen
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"}, zap.NewNop())
	require.Error(t, err)

	client, err := New(Config{BaseURL: "http://localhost:8081/"}, nil)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8081", client.BaseURL())
}

func TestCreateJobDecodesJobRecord(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(crawl.JobInfo{
			ID:      "night-default-INJECT-1",
			Type:    "INJECT",
			State:   crawl.StateRunning,
			CrawlID: "night",
			ConfID:  "default",
		})
	})

	id, err := client.CreateJob(context.Background(), crawl.CreateJobRequest{
		CrawlID: "night",
		ConfID:  "default",
		Type:    "INJECT",
		Args:    map[string]any{"url_dir": "/tmp/seed"},
	})
	require.NoError(t, err)
	require.Equal(t, "night-default-INJECT-1", id)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/job/create", req.Path)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &payload))
	require.Equal(t, "night", payload["crawlId"])
	require.Equal(t, "default", payload["confId"])
	require.Equal(t, "INJECT", payload["type"])
}

func TestCreateJobAcceptsBareTextID(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("night-default-GENERATE-2\n"))
	})

	id, err := client.CreateJob(context.Background(), crawl.CreateJobRequest{
		CrawlID: "night", ConfID: "default", Type: "GENERATE",
	})
	require.NoError(t, err)
	require.Equal(t, "night-default-GENERATE-2", id)
}

func TestCreateJobRejectsEmptyResponse(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.CreateJob(context.Background(), crawl.CreateJobRequest{
		CrawlID: "night", ConfID: "default", Type: "FETCH",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no job id")
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(crawl.JobInfo{
			ID:    "night-default-FETCH-3",
			State: crawl.StateFinished,
		})
	})

	info, err := client.GetJobStatus(context.Background(), "night-default-FETCH-3")
	require.NoError(t, err)
	require.Equal(t, crawl.StateFinished, info.State)
	require.Equal(t, "/job/night-default-FETCH-3", (*seen)[0].Path)
	require.Equal(t, http.MethodGet, (*seen)[0].Method)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]crawl.JobInfo{
			{ID: "a", CrawlID: "night", ConfID: "default"},
			{ID: "b", CrawlID: "day", ConfID: "default"},
		})
	})

	infos, err := client.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "/job", (*seen)[0].Path)
}

func TestStopAndAbortHitJobRoutes(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("true"))
	})

	require.NoError(t, client.StopJob(context.Background(), "job-1"))
	require.NoError(t, client.AbortJob(context.Background(), "job-1"))

	require.Len(t, *seen, 2)
	require.Equal(t, http.MethodPost, (*seen)[0].Method)
	require.Equal(t, "/job/job-1/stop", (*seen)[0].Path)
	require.Equal(t, "/job/job-1/abort", (*seen)[1].Path)
}

func TestNon2xxBecomesRemoteServiceError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("job queue is on fire"))
	})

	_, err := client.GetJobStatus(context.Background(), "job-1")
	require.Error(t, err)

	var remoteErr *crawl.RemoteServiceError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, "job.status", remoteErr.Op)
	require.Equal(t, http.StatusInternalServerError, remoteErr.Status)
	require.Contains(t, remoteErr.Body, "on fire")
}

func TestErrorBodySnippetIsBounded(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	})

	_, err := client.ListJobs(context.Background())
	var remoteErr *crawl.RemoteServiceError
	require.ErrorAs(t, err, &remoteErr)
	require.LessOrEqual(t, len(remoteErr.Body), errBodySnippet)
}

func TestConfigOperations(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/config":
			_ = json.NewEncoder(w).Encode([]string{"default", "fast"})
		case r.Method == http.MethodGet && r.URL.Path == "/config/default":
			_ = json.NewEncoder(w).Encode(map[string]string{"fetcher.server.delay": "1.0"})
		case r.Method == http.MethodGet && r.URL.Path == "/config/default/fetcher.server.delay":
			_, _ = w.Write([]byte("1.0\n"))
		case r.Method == http.MethodPost && r.URL.Path == "/config/fast":
			_, _ = w.Write([]byte("fast"))
		case r.Method == http.MethodDelete && r.URL.Path == "/config/fast":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()

	ids, err := client.ListConfigs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"default", "fast"}, ids)

	params, err := client.GetConfig(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, "1.0", params["fetcher.server.delay"])

	value, err := client.GetConfigParameter(ctx, "default", "fetcher.server.delay")
	require.NoError(t, err)
	require.Equal(t, "1.0", value)

	created, err := client.CreateConfig(ctx, "fast", map[string]string{"fetcher.threads.fetch": "20"})
	require.NoError(t, err)
	require.Equal(t, "fast", created)

	require.NoError(t, client.DeleteConfig(ctx, "fast"))
	require.Len(t, *seen, 5)
}

func TestCreateSeedBuildsPayloadAndReturnsDir(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("/tmp/1704067200000-0\n"))
	})

	ref, err := client.CreateSeed(context.Background(), "news-sites", []string{
		"https://example.com",
		"https://example.org",
	})
	require.NoError(t, err)
	require.Equal(t, "news-sites", ref.Name)
	require.Equal(t, "/tmp/1704067200000-0", ref.Dir)

	require.Equal(t, "/seed/create", (*seen)[0].Path)
	var payload seedList
	require.NoError(t, json.Unmarshal((*seen)[0].Body, &payload))
	require.Equal(t, "news-sites", payload.Name)
	require.Len(t, payload.SeedURLs, 2)
	require.Equal(t, "https://example.com", payload.SeedURLs[0].URL)
}

func TestCreateSeedValidatesInput(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.CreateSeed(context.Background(), "", []string{"https://example.com"})
	require.Error(t, err)

	_, err = client.CreateSeed(context.Background(), "empty", nil)
	require.Error(t, err)
}

func TestAdminOperations(t *testing.T) {
	t.Parallel()

	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" {
			_ = json.NewEncoder(w).Encode(map[string]any{"startDate": 1704067200000})
			return
		}
		_, _ = w.Write([]byte("stopping"))
	})

	status, err := client.ServerStatus(context.Background())
	require.NoError(t, err)
	require.Contains(t, status, "startDate")

	require.NoError(t, client.StopServer(context.Background()))
	require.Equal(t, "/admin/stop", (*seen)[1].Path)
	require.Equal(t, http.MethodPost, (*seen)[1].Method)
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	var gotAccept, gotAgent, gotContentType string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte("job-1"))
	})

	_, err := client.CreateJob(context.Background(), crawl.CreateJobRequest{
		CrawlID: "night", ConfID: "default", Type: "INJECT",
	})
	require.NoError(t, err)
	require.Equal(t, "application/json, text/plain", gotAccept)
	require.Equal(t, defaultUserAgent, gotAgent)
	require.Equal(t, "application/json", gotContentType)
}

func TestAPIKeyHeader(t *testing.T) {
	t.Parallel()

	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode([]crawl.JobInfo{})
	}))
	t.Cleanup(srv.Close)

	keyed, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second, APIKey: "s3cret"}, zap.NewNop())
	require.NoError(t, err)
	_, err = keyed.ListJobs(context.Background())
	require.NoError(t, err)

	bare, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	_, err = bare.ListJobs(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"s3cret", ""}, keys)
}
