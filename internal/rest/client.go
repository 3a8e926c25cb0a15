// Package rest implements the crawl capability interfaces against the
// remote service's REST API. All state lives server-side; the client only
// shapes requests and decodes responses.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "crawlpilot"

	// maxResponseBytes caps how much of a response body is read; the API's
	// payloads are small and a runaway body should not exhaust memory.
	maxResponseBytes = 4 << 20

	// errBodySnippet limits how much response text rides along in errors.
	errBodySnippet = 256
)

// Config carries the connection settings for a remote crawl service.
type Config struct {
	// BaseURL is the root of the service API, e.g. http://localhost:8081.
	BaseURL string
	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
	// UserAgent overrides the default request User-Agent.
	UserAgent string
	// APIKey is sent as X-API-Key on every request when set.
	APIKey string
}

// Client talks to one remote crawl service. It implements crawl.JobService,
// crawl.ConfigService, crawl.SeedService, and crawl.AdminService.
type Client struct {
	baseURL   string
	httpc     *http.Client
	userAgent string
	apiKey    string
	logger    *zap.Logger
}

var (
	_ crawl.JobService    = (*Client)(nil)
	_ crawl.ConfigService = (*Client)(nil)
	_ crawl.SeedService   = (*Client)(nil)
	_ crawl.AdminService  = (*Client)(nil)
)

// New validates the configuration and builds a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", parsed.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		httpc:     &http.Client{Timeout: timeout},
		userAgent: userAgent,
		apiKey:    cfg.APIKey,
		logger:    logger,
	}, nil
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// do issues one request and returns the raw body of a 2xx response. Any
// other status becomes a crawl.RemoteServiceError carrying the code and a
// snippet of the body.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.ObserveRemoteRequest(op, 0, time.Since(start))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.ObserveRemoteRequest(op, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, readErr)
	}
	c.logger.Debug("remote service call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &crawl.RemoteServiceError{Op: op, Status: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

// doJSON issues a request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	data, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func snippet(data []byte) string {
	text := strings.TrimSpace(string(data))
	if len(text) > errBodySnippet {
		text = text[:errBodySnippet]
	}
	return text
}

// CreateJob schedules a job and returns its remote identifier. Current
// servers answer with the full job record; older ones return the bare id as
// plain text, and both shapes are accepted.
func (c *Client) CreateJob(ctx context.Context, req crawl.CreateJobRequest) (string, error) {
	data, err := c.do(ctx, "job.create", http.MethodPost, "/job/create", req)
	if err != nil {
		return "", err
	}
	var info crawl.JobInfo
	if err := json.Unmarshal(data, &info); err == nil && info.ID != "" {
		return info.ID, nil
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("job.create: response carried no job id")
	}
	return id, nil
}

// GetJobStatus fetches the status record for one job.
func (c *Client) GetJobStatus(ctx context.Context, id string) (crawl.JobInfo, error) {
	var info crawl.JobInfo
	path := "/job/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "job.status", http.MethodGet, path, nil, &info); err != nil {
		return crawl.JobInfo{}, err
	}
	return info, nil
}

// ListJobs returns every job record the service knows about.
func (c *Client) ListJobs(ctx context.Context) ([]crawl.JobInfo, error) {
	var infos []crawl.JobInfo
	if err := c.doJSON(ctx, "job.list", http.MethodGet, "/job", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// StopJob asks the service to stop a job gracefully.
func (c *Client) StopJob(ctx context.Context, id string) error {
	path := "/job/" + url.PathEscape(id) + "/stop"
	_, err := c.do(ctx, "job.stop", http.MethodPost, path, nil)
	return err
}

// AbortJob asks the service to kill a job.
func (c *Client) AbortJob(ctx context.Context, id string) error {
	path := "/job/" + url.PathEscape(id) + "/abort"
	_, err := c.do(ctx, "job.abort", http.MethodPost, path, nil)
	return err
}

// ListConfigs returns the ids of every configuration on the service.
func (c *Client) ListConfigs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.doJSON(ctx, "config.list", http.MethodGet, "/config", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetConfig returns a configuration's full parameter map.
func (c *Client) GetConfig(ctx context.Context, id string) (map[string]string, error) {
	var params map[string]string
	path := "/config/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "config.get", http.MethodGet, path, nil, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// GetConfigParameter returns one parameter value as text.
func (c *Client) GetConfigParameter(ctx context.Context, id, param string) (string, error) {
	path := "/config/" + url.PathEscape(id) + "/" + url.PathEscape(param)
	data, err := c.do(ctx, "config.param", http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// CreateConfig registers a configuration under the given id and returns the
// id the service stored it as.
func (c *Client) CreateConfig(ctx context.Context, id string, params map[string]string) (string, error) {
	path := "/config/" + url.PathEscape(id)
	data, err := c.do(ctx, "config.create", http.MethodPost, path, params)
	if err != nil {
		return "", err
	}
	created := strings.TrimSpace(string(data))
	if created == "" {
		created = id
	}
	return created, nil
}

// DeleteConfig removes a configuration from the service.
func (c *Client) DeleteConfig(ctx context.Context, id string) error {
	path := "/config/" + url.PathEscape(id)
	_, err := c.do(ctx, "config.delete", http.MethodDelete, path, nil)
	return err
}

type seedURL struct {
	URL string `json:"url"`
}

type seedList struct {
	Name     string    `json:"name"`
	SeedURLs []seedURL `json:"seedUrls"`
}

// CreateSeed registers a named seed list and returns the server-side
// directory an INJECT job can read it from.
func (c *Client) CreateSeed(ctx context.Context, name string, urls []string) (crawl.SeedRef, error) {
	if name == "" {
		return crawl.SeedRef{}, errors.New("seed name is required")
	}
	if len(urls) == 0 {
		return crawl.SeedRef{}, errors.New("seed list needs at least one url")
	}
	payload := seedList{Name: name, SeedURLs: make([]seedURL, 0, len(urls))}
	for _, u := range urls {
		payload.SeedURLs = append(payload.SeedURLs, seedURL{URL: u})
	}
	data, err := c.do(ctx, "seed.create", http.MethodPost, "/seed/create", payload)
	if err != nil {
		return crawl.SeedRef{}, err
	}
	dir := strings.TrimSpace(string(data))
	if dir == "" {
		return crawl.SeedRef{}, fmt.Errorf("seed.create: response carried no seed directory")
	}
	return crawl.SeedRef{Name: name, Dir: dir}, nil
}

// ServerStatus returns the service's status document.
func (c *Client) ServerStatus(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.doJSON(ctx, "admin.status", http.MethodGet, "/admin", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// StopServer asks the remote service process to shut down.
func (c *Client) StopServer(ctx context.Context) error {
	_, err := c.do(ctx, "admin.stop", http.MethodPost, "/admin/stop", nil)
	return err
}
