package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/runlog"
)

// LogSink writes every row as a structured log line. It is useful during
// development or when the sheet webhook is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name implements runlog.Sink.
func (s *LogSink) Name() string {
	return "log"
}

// Consume logs each row in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch runlog.Batch) error {
	for _, row := range batch.Rows {
		s.logger.Info("run log row",
			zap.String("sheet", batch.SheetName),
			zap.String("run_id", row.RunID),
			zap.Time("started_at", row.StartedAt),
			zap.Time("finished_at", row.FinishedAt),
			zap.String("country", row.Country),
			zap.String("url", row.URL),
			zap.Int("status", row.Status),
			zap.String("edge_cache", row.EdgeCache),
			zap.String("secondary_cache", row.SecondaryCache),
			zap.String("trace_id", row.TraceID),
			zap.Int64("response_time_ms", row.ResponseTimeMs),
			zap.Bool("error", row.Error),
			zap.String("message", row.Message),
		)
	}
	return nil
}
