// Package metrics exposes Prometheus collectors for the crawl controller.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteRequestsTotal          *prometheus.CounterVec
	remoteRequestDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	crawlsLaunchedTotal          *prometheus.CounterVec
	crawlsActive                 prometheus.Gauge
	harvestPagesTotal            *prometheus.CounterVec
	harvestBytesTotal            *prometheus.CounterVec
	harvestRateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlpilot_remote_requests_total",
				Help: "Total requests issued to the remote crawl service, labeled by operation and code.",
			},
			[]string{"op", "code"},
		)

		remoteRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlpilot_remote_request_duration_seconds",
				Help:    "Histogram of remote crawl service latencies, labeled by operation.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlsLaunchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlpilot_crawls_launched_total",
				Help: "Crawls launched, labeled by source (cli, api, cron).",
			},
			[]string{"source"},
		)

		crawlsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlpilot_crawls_active",
				Help: "Crawls currently being driven by the runner.",
			},
		)

		harvestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlpilot_harvest_pages_total",
				Help: "Pages fetched by the local seed harvester, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		harvestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlpilot_harvest_bytes_total",
				Help: "Bytes fetched by the local seed harvester, labeled by site.",
			},
			[]string{"site"},
		)

		harvestRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlpilot_harvest_rate_limit_delay_seconds",
				Help:    "Histogram of harvester rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRemoteRequest records one call against the remote crawl service.
func ObserveRemoteRequest(op string, code int, duration time.Duration) {
	remoteRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
	remoteRequestDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCrawlLaunched counts a crawl launch from the given source.
func ObserveCrawlLaunched(source string) {
	crawlsLaunchedTotal.WithLabelValues(source).Inc()
}

// IncActiveCrawls increments the active crawls gauge.
func IncActiveCrawls() {
	crawlsActive.Inc()
}

// DecActiveCrawls decrements the active crawls gauge.
func DecActiveCrawls() {
	crawlsActive.Dec()
}

// ObserveHarvestPage counts a harvester page fetch.
func ObserveHarvestPage(site, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	harvestPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		harvestBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHarvestRateLimitDelay records the duration of a harvester rate
// limit wait.
func ObserveHarvestRateLimitDelay(domain string, duration time.Duration) {
	harvestRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
