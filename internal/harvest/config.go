package harvest

import (
	"fmt"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	defaultUserAgent         = "crawlpilot-harvester"
	defaultRequestTimeout    = 20 * time.Second
	defaultConcurrency       = 2
	defaultDomainQPS         = 1.0
	defaultMaxLinks          = 200
	defaultRenderTimeout     = 25 * time.Second
	defaultRenderConcurrency = 1
	defaultMinHTMLBytes      = 2048
)

// defaultShellMarkers are substrings whose presence marks a page as a
// client-rendered shell.
var defaultShellMarkers = []string{
	"__next_data__",
	"window.__nuxt__",
	"data-reactroot",
	"ng-version",
}

// Config captures every knob that influences a harvest run.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	Concurrency    int
	// DomainQPS caps requests per second against one host. Zero disables
	// the limiter.
	DomainQPS     float64
	RespectRobots bool
	// SameHostOnly drops harvested links that leave the portal's host.
	SameHostOnly bool
	MaxLinks     int

	RenderEnabled     bool
	RenderTimeout     time.Duration
	RenderConcurrency int

	// DetectorMinHTMLBytes marks bodies below this size as shells.
	DetectorMinHTMLBytes int
	// DetectorSelectors are CSS selectors the page must contain; a miss
	// marks it as a shell. Empty means no selector check.
	DetectorSelectors []string
	// DetectorKeywords override defaultShellMarkers when non-empty.
	DetectorKeywords []string
}

func (c *Config) withDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = defaultMaxLinks
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = defaultRenderTimeout
	}
	if c.RenderConcurrency <= 0 {
		c.RenderConcurrency = defaultRenderConcurrency
	}
	if c.DetectorMinHTMLBytes <= 0 {
		c.DetectorMinHTMLBytes = defaultMinHTMLBytes
	}
	if len(c.DetectorKeywords) == 0 {
		c.DetectorKeywords = append([]string(nil), defaultShellMarkers...)
	}
}

// Validate rejects configurations the harvester cannot run with.
func (c Config) Validate() error {
	if c.DomainQPS < 0 {
		return fmt.Errorf("domain qps must be >= 0, got %v", c.DomainQPS)
	}
	if c.MaxLinks < 0 {
		return fmt.Errorf("max links must be >= 0, got %d", c.MaxLinks)
	}
	return nil
}
