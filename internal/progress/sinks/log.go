package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/progress"
)

// LogSink writes each event as a structured debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger)}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			logging.JobID(evt.JobID),
			logging.Stage(string(evt.Stage)),
			zap.Int("count", evt.Count),
			zap.Duration("dur", evt.Dur),
		}
		if evt.QuestionID != "" {
			fields = append(fields, logging.QuestionID(evt.QuestionID))
		}
		if evt.Failed > 0 {
			fields = append(fields, zap.Int("failed", evt.Failed))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
