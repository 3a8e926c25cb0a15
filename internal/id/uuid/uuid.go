// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// crawlIDTimeLayout makes crawl IDs sort chronologically and stay readable
// in job listings on the remote service.
const crawlIDTimeLayout = "20060102T150405"

// Generator creates UUID-backed identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewCrawlID returns an identifier of the form crawl-20060102T150405-1a2b3c4d.
// The tail comes from a UUID4 so two crawls launched in the same second
// still get distinct IDs.
func (Generator) NewCrawlID(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return fmt.Sprintf("crawl-%s-%s", now.UTC().Format(crawlIDTimeLayout), id.String()[:8]), nil
}
