package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/journal"
)

const (
	// historyTimeout bounds each journal read independently of the outer
	// request deadline.
	historyTimeout = 3 * time.Second

	defaultRunLimit = 50
	maxRunLimit     = 500
)

// jobRunDTO is the wire shape of one journal row.
type jobRunDTO struct {
	JobID      string     `json:"job_id"`
	CrawlID    string     `json:"crawl_id"`
	ConfID     string     `json:"conf_id"`
	Stage      string     `json:"stage"`
	Round      int        `json:"round"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Note       *string    `json:"note,omitempty"`
}

func toJobRunDTO(run journal.JobRun) jobRunDTO {
	return jobRunDTO{
		JobID:      run.JobID,
		CrawlID:    run.CrawlID,
		ConfID:     run.ConfID,
		Stage:      run.Stage,
		Round:      run.Round,
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Note:       run.Note,
	}
}

// handleListJobRuns serves GET /v1/history/jobs. Optional query parameters:
// crawl_id filters to one crawl, limit caps the row count (default 50,
// max 500).
func (s *Server) handleListJobRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl journal is not configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	crawlID := r.URL.Query().Get("crawl_id")

	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()
	runs, err := s.journal.ListJobRuns(ctx, crawlID, limit)
	if err != nil {
		s.logger.Error("journal listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal listing failed")
		return
	}
	dtos := make([]jobRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toJobRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// handleGetJobRun serves GET /v1/history/jobs/{job_id}.
func (s *Server) handleGetJobRun(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl journal is not configured")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()
	run, err := s.journal.GetJobRun(ctx, jobID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job run %s not found", jobID))
			return
		}
		s.logger.Error("journal lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toJobRunDTO(run)})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultRunLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	return limit, nil
}
