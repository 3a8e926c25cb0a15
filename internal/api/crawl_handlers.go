package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/runner"
	"github.com/crawlops/crawlpilot/internal/seed"
)

// submitCrawlRequest is the POST /v1/crawls body. Exactly one of seed_urls
// and url_dir must be supplied.
type submitCrawlRequest struct {
	CrawlID    string         `json:"crawl_id"`
	ConfID     string         `json:"conf_id"`
	Rounds     int            `json:"rounds"`
	SeedName   string         `json:"seed_name"`
	SeedURLs   []string       `json:"seed_urls"`
	URLDir     string         `json:"url_dir"`
	InjectArgs map[string]any `json:"inject_args"`
}

// handleSubmitCrawl accepts a crawl for asynchronous execution. A 202 means
// the runner owns the crawl; completion status is read from GET
// /v1/crawls/{crawl_id}.
func (s *Server) handleSubmitCrawl(w http.ResponseWriter, r *http.Request) {
	var body submitCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	if len(body.SeedURLs) > 0 && body.URLDir != "" {
		writeError(w, http.StatusBadRequest, "seed_urls and url_dir are mutually exclusive")
		return
	}

	req := runner.Request{
		CrawlID:    body.CrawlID,
		ConfID:     body.ConfID,
		Rounds:     body.Rounds,
		URLDir:     body.URLDir,
		InjectArgs: body.InjectArgs,
		Source:     "api",
	}
	if len(body.SeedURLs) > 0 {
		urls := make([]string, 0, len(body.SeedURLs))
		for _, raw := range body.SeedURLs {
			u, err := seed.Normalize(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("seed url %q: %s", raw, err))
				return
			}
			urls = append(urls, u)
		}
		req.Seed = &seed.List{Name: body.SeedName, URLs: urls}
	}

	id, err := s.runner.Launch(req)
	if err != nil {
		switch {
		case errors.Is(err, crawl.ErrMissingSeed):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, runner.ErrDuplicate):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, runner.ErrBusy):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, runner.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("crawl launch failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "crawl launch failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": id})
}

func (s *Server) handleListCrawls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"crawls": s.runner.List()})
}

func (s *Server) handleGetCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawl_id")
	status, ok := s.runner.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("crawl %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl": status})
}

// handleStopCrawl requests a graceful stop. 202 means the stop was
// delivered; the crawl settles to the stopped state asynchronously.
func (s *Server) handleStopCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawl_id")
	if err := s.runner.Stop(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, runner.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("crawl %s not found", id))
		case errors.Is(err, runner.ErrFinished):
			writeError(w, http.StatusConflict, fmt.Sprintf("crawl %s already finished", id))
		default:
			s.logger.Error("crawl stop failed", zap.String("crawl_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "crawl stop failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": id, "state": "stopping"})
}

type addRoundsRequest struct {
	Add int `json:"add"`
}

func (s *Server) handleAddRounds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawl_id")
	var body addRoundsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	if body.Add <= 0 {
		writeError(w, http.StatusBadRequest, "add must be positive")
		return
	}
	total, err := s.runner.AddRounds(id, body.Add)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("crawl %s not found", id))
		case errors.Is(err, runner.ErrFinished):
			writeError(w, http.StatusConflict, fmt.Sprintf("crawl %s already finished", id))
		default:
			s.logger.Error("round extension failed", zap.String("crawl_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "round extension failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl_id": id, "total_rounds": total})
}

// handleListJobs proxies the remote service's job listing. By default the
// listing is filtered to crawls this runner launched; all=true returns
// every job on the shared server.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	infos, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("remote job listing failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "remote job listing failed")
		return
	}
	if !queryBool(r, "all") {
		owned := make(map[string]bool)
		for _, status := range s.runner.List() {
			owned[status.CrawlID] = true
		}
		kept := make([]crawl.JobInfo, 0, len(infos))
		for _, info := range infos {
			if owned[info.CrawlID] {
				kept = append(kept, info)
			}
		}
		infos = kept
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": infos})
}

// queryBool reads a boolean query parameter, treating absent or malformed
// values as false.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
