package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crawlops/crawlpilot/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for jobs created/completed/in-flight and round throughput.
type PrometheusSink struct {
	jobsCreated   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsInFlight  prometheus.Gauge
	roundsTotal   *prometheus.CounterVec
	crawlsTotal   prometheus.Counter
	crawlsFailed  prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlpilot_jobs_created_total",
			Help: "Total crawl jobs created, partitioned by stage.",
		}, []string{"stage"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlpilot_jobs_completed_total",
			Help: "Total crawl jobs that reached a terminal state, partitioned by stage and result.",
		}, []string{"stage", "result"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpilot_jobs_in_flight",
			Help: "Crawl jobs currently executing on the remote service.",
		}),
		roundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlpilot_rounds_completed_total",
			Help: "Crawl rounds completed, partitioned by crawl id.",
		}, []string{"crawl_id"}),
		crawlsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpilot_crawls_completed_total",
			Help: "Crawls that ran every scheduled round to completion.",
		}),
		crawlsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpilot_crawls_failed_total",
			Help: "Crawls that ended on a failed pipeline job.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsCreated,
		s.jobsCompleted,
		s.jobsInFlight,
		s.roundsTotal,
		s.crawlsTotal,
		s.crawlsFailed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindJobCreated:
		s.jobsCreated.WithLabelValues(evt.Stage).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsInFlight.Inc()
		}
	case progress.KindJobFinished:
		s.jobsCompleted.WithLabelValues(evt.Stage, "success").Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsInFlight.Dec()
		}
	case progress.KindJobFailed:
		s.jobsCompleted.WithLabelValues(evt.Stage, "error").Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsInFlight.Dec()
		}
	case progress.KindRoundComplete:
		s.roundsTotal.WithLabelValues(evt.CrawlID).Inc()
	case progress.KindCrawlComplete:
		s.crawlsTotal.Inc()
	case progress.KindCrawlFailed:
		s.crawlsFailed.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker dedupes in-flight transitions so the gauge stays correct when
// creation events are replayed or dropped.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
