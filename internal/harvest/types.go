// Package harvest builds seed lists by scraping anchor links off a portal
// page. A plain fetch is tried first; pages that look like JS-rendered
// shells can be re-fetched through a headless browser.
package harvest

import (
	"context"
	"net/http"
)

// Page is one fetched document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	UsedJS     bool
}

// Fetcher retrieves a page over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Detector decides whether a fetched page needs JS rendering to be useful.
type Detector interface {
	NeedsJS(ctx context.Context, page Page) bool
}

// Renderer re-fetches a page with JavaScript executed.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// RobotsPolicy answers whether a URL may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}
