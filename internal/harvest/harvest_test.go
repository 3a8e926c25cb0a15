package harvest

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubFetcher struct {
	page  Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	s.calls++
	if s.err != nil {
		return Page{}, s.err
	}
	page := s.page
	if page.URL == "" {
		page.URL = rawURL
	}
	if page.StatusCode == 0 {
		page.StatusCode = 200
	}
	return page, nil
}

type stubDetector struct {
	needs bool
}

func (s stubDetector) NeedsJS(context.Context, Page) bool { return s.needs }

type stubRenderer struct {
	page  Page
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, rawURL string) (Page, error) {
	s.calls++
	if s.err != nil {
		return Page{}, s.err
	}
	page := s.page
	if page.URL == "" {
		page.URL = rawURL
	}
	page.UsedJS = true
	return page, nil
}

func (s *stubRenderer) Close(context.Context) error { return nil }

type denyAllPolicy struct{}

func (denyAllPolicy) Allowed(context.Context, string) bool { return false }

func TestHarvestExtractsLinks(t *testing.T) {
	fetcher := &stubFetcher{page: Page{
		FinalURL: "https://example.com/news",
		Body:     []byte(portalHTML),
	}}
	h := NewWithParts(Config{}, fetcher, stubDetector{needs: false}, nil, nil, nil)

	res, err := h.Harvest(context.Background(), "https://EXAMPLE.com/news")
	if err != nil {
		t.Fatalf("Harvest error = %v", err)
	}
	if res.PortalURL != "https://example.com/news" {
		t.Fatalf("expected normalized portal url, got %s", res.PortalURL)
	}
	if res.Rendered {
		t.Fatal("expected no rendering")
	}
	if len(res.Links) != 3 {
		t.Fatalf("expected 3 links, got %v", res.Links)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.calls)
	}
}

func TestHarvestEscalatesToRenderer(t *testing.T) {
	fetcher := &stubFetcher{page: Page{Body: []byte("<html></html>")}}
	renderer := &stubRenderer{page: Page{
		StatusCode: 200,
		FinalURL:   "https://example.com/news",
		Body:       []byte(`<a href="/rendered">x</a>`),
	}}
	h := NewWithParts(Config{}, fetcher, stubDetector{needs: true}, renderer, nil, nil)

	res, err := h.Harvest(context.Background(), "https://example.com/news")
	if err != nil {
		t.Fatalf("Harvest error = %v", err)
	}
	if !res.Rendered {
		t.Fatal("expected the rendered page to win")
	}
	if renderer.calls != 1 {
		t.Fatalf("expected 1 render, got %d", renderer.calls)
	}
	if len(res.Links) != 1 || res.Links[0] != "https://example.com/rendered" {
		t.Fatalf("expected the rendered link set, got %v", res.Links)
	}
	if !res.Page.UsedJS {
		t.Fatal("expected the page to be marked as JS-rendered")
	}
}

func TestHarvestKeepsPlainFetchWhenRenderFails(t *testing.T) {
	fetcher := &stubFetcher{page: Page{
		FinalURL: "https://example.com/news",
		Body:     []byte(`<a href="/plain">x</a>`),
	}}
	renderer := &stubRenderer{err: errors.New("browser crashed")}
	h := NewWithParts(Config{}, fetcher, stubDetector{needs: true}, renderer, nil, nil)

	res, err := h.Harvest(context.Background(), "https://example.com/news")
	if err != nil {
		t.Fatalf("Harvest error = %v", err)
	}
	if res.Rendered {
		t.Fatal("expected fallback to the plain fetch")
	}
	if len(res.Links) != 1 || res.Links[0] != "https://example.com/plain" {
		t.Fatalf("expected the plain link set, got %v", res.Links)
	}
}

func TestHarvestRobotsDenied(t *testing.T) {
	h := NewWithParts(Config{}, &stubFetcher{}, stubDetector{}, nil, denyAllPolicy{}, nil)

	_, err := h.Harvest(context.Background(), "https://example.com/news")
	if !errors.Is(err, ErrRobotsDisallowed) {
		t.Fatalf("expected ErrRobotsDisallowed, got %v", err)
	}
}

func TestHarvestFetchError(t *testing.T) {
	h := NewWithParts(Config{}, &stubFetcher{err: errors.New("connection refused")}, stubDetector{}, nil, nil, nil)

	_, err := h.Harvest(context.Background(), "https://example.com/news")
	if err == nil || !strings.Contains(err.Error(), "fetch portal") {
		t.Fatalf("expected a fetch error, got %v", err)
	}
}

func TestHarvestRejectsBadPortalURL(t *testing.T) {
	h := NewWithParts(Config{}, &stubFetcher{}, stubDetector{}, nil, nil, nil)

	_, err := h.Harvest(context.Background(), "ftp://example.com/list")
	if err == nil || !strings.Contains(err.Error(), "portal url") {
		t.Fatalf("expected a portal url error, got %v", err)
	}
}

func TestHarvestNon2xxStatus(t *testing.T) {
	fetcher := &stubFetcher{page: Page{StatusCode: 404, Body: []byte("gone")}}
	h := NewWithParts(Config{}, fetcher, stubDetector{}, nil, nil, nil)

	_, err := h.Harvest(context.Background(), "https://example.com/missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected a status error, got %v", err)
	}
}
