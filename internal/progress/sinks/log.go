package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crawlops/crawlpilot/internal/progress"
)

// LogSink writes every progress event to the structured log. Failure kinds
// land at warn level, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		if evt.Kind == progress.KindJobFailed || evt.Kind == progress.KindCrawlFailed {
			level = zapcore.WarnLevel
		}

		fields := make([]zap.Field, 0, 9)
		fields = append(fields,
			zap.String("kind", string(evt.Kind)),
			zap.String("crawl_id", evt.CrawlID),
			zap.Int("round", evt.Round),
			zap.Time("ts", evt.TS),
		)
		if evt.ConfID != "" {
			fields = append(fields, zap.String("conf_id", evt.ConfID))
		}
		if evt.JobID != "" {
			fields = append(fields,
				zap.String("job_id", evt.JobID),
				zap.String("stage", evt.Stage),
				zap.String("state", evt.State),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		s.logger.Log(level, "crawl progress", fields...)
	}
	return nil
}

// Close is a no-op; the logger's lifecycle belongs to the caller.
func (s *LogSink) Close(context.Context) error {
	return nil
}
