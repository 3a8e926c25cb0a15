package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/crawl"
	"github.com/crawlops/crawlpilot/internal/journal"
	"github.com/crawlops/crawlpilot/internal/metrics"
	"github.com/crawlops/crawlpilot/internal/runner"
)

const (
	// defaultRequestTimeout bounds every handler unless overridden.
	defaultRequestTimeout = 60 * time.Second
	// readyProbeTimeout bounds the remote status ping behind /readyz.
	readyProbeTimeout = 3 * time.Second
)

// Config carries the tunable parts of the HTTP server.
type Config struct {
	// APIKey guards the /v1 routes when non-empty. Clients send it in the
	// X-API-Key header or the api_key query parameter.
	APIKey string
	// RequestTimeout is the per-request deadline enforced by the router.
	RequestTimeout time.Duration
}

// Server is the control-plane HTTP interface. It fronts the crawl runner,
// the remote job service, and the crawl journal.
type Server struct {
	runner  *runner.Runner
	jobs    crawl.JobService
	admin   crawl.AdminService
	journal journal.Store
	logger  *zap.Logger
	router  chi.Router
	cfg     Config
}

// NewServer wires the HTTP routes. The runner and job service are required;
// admin and journal are optional and their routes degrade gracefully when
// absent.
func NewServer(
	run *runner.Runner,
	jobs crawl.JobService,
	admin crawl.AdminService,
	store journal.Store,
	cfg Config,
	logger *zap.Logger,
) (*Server, error) {
	if run == nil {
		return nil, errors.New("api: runner is required")
	}
	if jobs == nil {
		return nil, errors.New("api: job service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	metrics.Init()

	s := &Server{
		runner:  run,
		jobs:    jobs,
		admin:   admin,
		journal: store,
		logger:  logger,
		cfg:     cfg,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(s.cfg.RequestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(s.cfg.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.handleSubmitCrawl)
			r.Get("/", s.handleListCrawls)
			r.Route("/{crawl_id}", func(r chi.Router) {
				r.Get("/", s.handleGetCrawl)
				r.Post("/stop", s.handleStopCrawl)
				r.Post("/rounds", s.handleAddRounds)
			})
		})
		r.Get("/jobs", s.handleListJobs)
		r.Route("/history", func(r chi.Router) {
			r.Get("/jobs", s.handleListJobRuns)
			r.Get("/jobs/{job_id}", s.handleGetJobRun)
		})
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only when the remote crawl service answers a
// status ping. Without an admin client the probe degrades to a liveness
// check.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()
		if _, err := s.admin.ServerStatus(ctx); err != nil {
			s.logger.Warn("readiness ping failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "remote crawl service unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestIDKey is the context key for the per-request id.
type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestIDFromContext(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got != key {
				writeError(w, http.StatusForbidden, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter records the status code for logging while passing Flush
// and Hijack through to the underlying writer.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
