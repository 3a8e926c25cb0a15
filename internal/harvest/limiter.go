package harvest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/crawlops/crawlpilot/internal/metrics"
)

// DomainLimiter spreads requests against one host over time. Each host gets
// its own token bucket at the configured QPS with a burst of one.
type DomainLimiter struct {
	qps      float64
	limiters sync.Map
}

// NewDomainLimiter builds a limiter; qps <= 0 disables it.
func NewDomainLimiter(qps float64) *DomainLimiter {
	return &DomainLimiter{qps: qps}
}

// Wait blocks until the host behind rawURL has budget, or ctx is done. Time
// spent waiting is recorded as rate limit delay.
func (l *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url for rate limit: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := l.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(l.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait domain budget: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHarvestRateLimitDelay(host, waited)
	}
	return nil
}
