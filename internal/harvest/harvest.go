package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/metrics"
	"github.com/crawlops/crawlpilot/internal/seed"
)

// ErrRobotsDisallowed reports a portal URL robots.txt forbids fetching.
var ErrRobotsDisallowed = errors.New("robots.txt disallows fetching the portal url")

// Result is what one harvest run produced.
type Result struct {
	PortalURL string
	Links     []string
	Rendered  bool
	Page      Page
}

// Harvester scrapes anchor links off a portal page to build seed lists.
type Harvester struct {
	cfg      Config
	fetcher  Fetcher
	detector Detector
	renderer Renderer
	robots   RobotsPolicy
	limiter  *DomainLimiter
	logger   *zap.Logger
}

// New builds a harvester with the colly fetcher, heuristic detector, robots
// gate, and (when enabled) the chromedp renderer.
func New(cfg Config, logger *zap.Logger) (*Harvester, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fetcher, err := NewCollyFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	var renderer Renderer
	if cfg.RenderEnabled {
		r, err := NewChromedpRenderer(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build renderer: %w", err)
		}
		renderer = r
	}
	detector := NewHeuristicDetector(cfg.DetectorMinHTMLBytes, cfg.DetectorSelectors, cfg.DetectorKeywords)
	robots := NewRobotsGate(cfg.RespectRobots, cfg.UserAgent, logger)

	return NewWithParts(cfg, fetcher, detector, renderer, robots, logger), nil
}

// NewWithParts assembles a harvester from pre-built components. A nil
// renderer disables escalation; a nil robots policy allows everything.
func NewWithParts(cfg Config, fetcher Fetcher, detector Detector, renderer Renderer, robots RobotsPolicy, logger *zap.Logger) *Harvester {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Harvester{
		cfg:      cfg,
		fetcher:  fetcher,
		detector: detector,
		renderer: renderer,
		robots:   robots,
		limiter:  NewDomainLimiter(cfg.DomainQPS),
		logger:   logger,
	}
}

// Close releases the renderer's browser when one is running.
func (h *Harvester) Close(ctx context.Context) error {
	if h.renderer != nil {
		return h.renderer.Close(ctx)
	}
	return nil
}

// Harvest fetches the portal page, escalates to the renderer when the page
// looks like a JS shell, and returns the extracted links.
func (h *Harvester) Harvest(ctx context.Context, portalURL string) (Result, error) {
	normalized, err := seed.Normalize(portalURL)
	if err != nil {
		return Result{}, fmt.Errorf("portal url: %w", err)
	}
	if h.robots != nil && !h.robots.Allowed(ctx, normalized) {
		return Result{}, fmt.Errorf("%s: %w", normalized, ErrRobotsDisallowed)
	}
	if err := h.limiter.Wait(ctx, normalized); err != nil {
		return Result{}, err
	}

	site := metrics.SanitizeSite(normalized)
	page, err := h.fetcher.Fetch(ctx, normalized)
	if err != nil {
		metrics.ObserveHarvestPage(site, "error", 0)
		return Result{}, fmt.Errorf("fetch portal: %w", err)
	}
	metrics.ObserveHarvestPage(site, strconv.Itoa(page.StatusCode), len(page.Body))

	rendered := false
	if h.renderer != nil && h.detector != nil && h.detector.NeedsJS(ctx, page) {
		h.logger.Debug("portal looks like a js shell; rendering", zap.String("url", normalized))
		rpage, rerr := h.renderer.Render(ctx, normalized)
		if rerr != nil {
			h.logger.Warn("render failed; keeping plain fetch",
				zap.String("url", normalized), zap.Error(rerr))
		} else {
			page = rpage
			rendered = true
			metrics.ObserveHarvestPage(site, strconv.Itoa(page.StatusCode), len(page.Body))
		}
	}

	// A renderer can miss the document response event and report status 0;
	// only real non-2xx codes abort the harvest.
	if page.StatusCode != 0 && (page.StatusCode < 200 || page.StatusCode >= 300) {
		return Result{}, fmt.Errorf("portal fetch returned status %d", page.StatusCode)
	}

	links, err := ExtractLinks(page, h.cfg.SameHostOnly, h.cfg.MaxLinks)
	if err != nil {
		return Result{}, err
	}
	h.logger.Info("harvest complete",
		zap.String("portal", normalized),
		zap.Int("links", len(links)),
		zap.Bool("rendered", rendered),
	)
	return Result{PortalURL: normalized, Links: links, Rendered: rendered, Page: page}, nil
}
