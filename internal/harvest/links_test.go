package harvest

import (
	"reflect"
	"testing"
)

const portalHTML = `<html><body>
<a href="/a">relative</a>
<a href="https://example.com/b?x=2&amp;a=1">absolute with query</a>
<a href="/a">duplicate</a>
<a href="https://other.org/c">external</a>
<a href="mailto:team@example.com">mail</a>
<a href="#section">fragment</a>
<a href="https://example.com/news">self</a>
</body></html>`

func TestExtractLinks(t *testing.T) {
	page := Page{
		URL:      "https://example.com/news",
		FinalURL: "https://example.com/news",
		Body:     []byte(portalHTML),
	}

	links, err := ExtractLinks(page, false, 0)
	if err != nil {
		t.Fatalf("ExtractLinks error = %v", err)
	}
	want := []string{
		"https://example.com/a",
		"https://example.com/b?a=1&x=2",
		"https://other.org/c",
	}
	if !reflect.DeepEqual(links, want) {
		t.Fatalf("expected %v, got %v", want, links)
	}
}

func TestExtractLinksSameHostOnly(t *testing.T) {
	page := Page{
		URL:  "https://example.com/news",
		Body: []byte(portalHTML),
	}

	links, err := ExtractLinks(page, true, 0)
	if err != nil {
		t.Fatalf("ExtractLinks error = %v", err)
	}
	for _, link := range links {
		if link == "https://other.org/c" {
			t.Fatalf("external link leaked through same-host filter: %v", links)
		}
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 same-host links, got %v", links)
	}
}

func TestExtractLinksCap(t *testing.T) {
	page := Page{
		URL:  "https://example.com/news",
		Body: []byte(portalHTML),
	}

	links, err := ExtractLinks(page, false, 2)
	if err != nil {
		t.Fatalf("ExtractLinks error = %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected cap of 2 links, got %v", links)
	}
}

func TestExtractLinksResolvesAgainstFinalURL(t *testing.T) {
	page := Page{
		URL:      "https://example.com/start",
		FinalURL: "https://moved.example.com/landing/",
		Body:     []byte(`<a href="next">next</a>`),
	}

	links, err := ExtractLinks(page, false, 0)
	if err != nil {
		t.Fatalf("ExtractLinks error = %v", err)
	}
	want := []string{"https://moved.example.com/landing/next"}
	if !reflect.DeepEqual(links, want) {
		t.Fatalf("expected %v, got %v", want, links)
	}
}

func TestExtractLinksEmptyBody(t *testing.T) {
	links, err := ExtractLinks(Page{URL: "https://example.com"}, false, 0)
	if err != nil {
		t.Fatalf("ExtractLinks error = %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("expected no links, got %v", links)
	}
}
