package harvest

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlops/crawlpilot/internal/seed"
)

// ExtractLinks pulls anchor hrefs out of a page and resolves them against
// the page's final URL, returning up to maxLinks distinct normalized URLs.
// The page itself never appears in its own link set.
func ExtractLinks(page Page, sameHostOnly bool, maxLinks int) ([]string, error) {
	baseRaw := page.FinalURL
	if baseRaw == "" {
		baseRaw = page.URL
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	self, _ := seed.Normalize(base.String())

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if maxLinks > 0 && len(links) >= maxLinks {
			return false
		}
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		if sameHostOnly && !strings.EqualFold(resolved.Host, base.Host) {
			return true
		}
		normalized, err := seed.Normalize(resolved.String())
		if err != nil {
			return true
		}
		if normalized == self {
			return true
		}
		if _, dup := seen[normalized]; dup {
			return true
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
		return true
	})

	return links, nil
}
