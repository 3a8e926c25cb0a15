// Package seed loads and normalizes the URL lists a crawl starts from and
// uploads them to the remote service. A list lives as one URL per line on
// disk; the remote service turns an uploaded list into a directory an
// inject job can read.
package seed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/crawlops/crawlpilot/internal/hash/sha256"
)

// ErrEmpty reports a seed list with no usable URLs.
var ErrEmpty = errors.New("seed list has no urls")

// List is a named set of crawl entry points.
type List struct {
	Name string
	URLs []string
}

// Normalize standardizes a seed URL so the same page cannot enter a list
// twice under different spellings. It lowercases the scheme and host, drops
// default ports and fragments, and sorts query parameters.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("url has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Parse reads one URL per line. Blank lines and lines starting with # are
// skipped. Every URL is normalized and duplicates keep their first
// position.
func Parse(r io.Reader) ([]string, error) {
	var urls []string
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		normalized, err := Normalize(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		urls = append(urls, normalized)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seed list: %w", err)
	}
	return urls, nil
}

// Load reads a seed list file from disk.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	urls, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return urls, nil
}

// Fingerprint returns a hex digest of the URL set. Ordering and duplicates
// do not change the digest.
func Fingerprint(urls []string) string {
	sorted := make([]string, len(urls))
	copy(sorted, urls)
	sort.Strings(sorted)

	uniq := sorted[:0]
	for _, u := range sorted {
		if len(uniq) == 0 || uniq[len(uniq)-1] != u {
			uniq = append(uniq, u)
		}
	}
	return sha256.SumHex([]byte(strings.Join(uniq, "\n")))
}

// DefaultName derives a stable list name from the fingerprint, for callers
// that do not care to pick one.
func DefaultName(urls []string) string {
	return "seed-" + Fingerprint(urls)[:12]
}
