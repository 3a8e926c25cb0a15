package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/journal"
	"github.com/crawlops/crawlpilot/internal/progress"
)

// JournalSink persists job lifecycle events via a journal.Store, turning the
// event stream into a durable run history. Round and crawl lifecycle events
// carry no job payload and are skipped.
type JournalSink struct {
	store  journal.Store
	logger *zap.Logger
}

// NewJournalSink constructs a JournalSink for the provided store.
func NewJournalSink(store journal.Store, logger *zap.Logger) *JournalSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalSink{store: store, logger: logger}
}

// Consume forwards job events to the journal in batch order. It respects ctx
// deadlines and returns the first store error it hits.
func (s *JournalSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *JournalSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Kind {
	case progress.KindJobCreated:
		run := journal.JobRun{
			JobID:     evt.JobID,
			CrawlID:   evt.CrawlID,
			ConfID:    evt.ConfID,
			Stage:     evt.Stage,
			Round:     evt.Round,
			StartedAt: evt.TS,
		}
		if err := s.store.StartJobRun(ctx, run); err != nil {
			return fmt.Errorf("journal job start: %w", err)
		}
	case progress.KindJobFinished:
		if err := s.store.FinishJobRun(ctx, evt.JobID, evt.TS, journal.RunSuccess, nil); err != nil {
			return fmt.Errorf("journal job finish: %w", err)
		}
	case progress.KindJobFailed:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.store.FinishJobRun(ctx, evt.JobID, evt.TS, journal.RunError, note); err != nil {
			return fmt.Errorf("journal job failure: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *JournalSink) Close(context.Context) error {
	return nil
}
