package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to a message topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Archiver persists finished reports and announces them. Either half is
// optional: a nil store disables archiving, a nil publisher disables
// notifications.
type Archiver struct {
	store  BlobStore
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewArchiver wires an archiver to its outputs.
func NewArchiver(store BlobStore, pub Publisher, topic string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, pub: pub, topic: topic, logger: logger}
}

// Archive writes the report as JSON and publishes a notification carrying
// its URI. A publish failure is logged but does not fail the archive; the
// report on disk is the source of truth.
func (a *Archiver) Archive(ctx context.Context, rep CrawlReport) (string, error) {
	if a == nil || a.store == nil {
		return "", nil
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	objectPath := path.Join(
		"reports",
		rep.FinishedAt.UTC().Format("2006-01-02"),
		rep.CrawlID+".json",
	)
	uri, err := a.store.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	a.logger.Info("crawl report archived",
		zap.String("crawl_id", rep.CrawlID),
		zap.String("uri", uri),
		zap.String("status", string(rep.Status)),
	)

	if a.pub != nil && a.topic != "" {
		note := Notification{
			CrawlID:    rep.CrawlID,
			Status:     rep.Status,
			ReportURI:  uri,
			Rounds:     len(rep.Rounds),
			TotalJobs:  rep.TotalJobs,
			FinishedAt: rep.FinishedAt,
		}
		if _, pubErr := a.pub.Publish(ctx, a.topic, note); pubErr != nil {
			a.logger.Warn("failed to publish report notification",
				zap.String("crawl_id", rep.CrawlID), zap.Error(pubErr))
		}
	}

	return uri, nil
}
