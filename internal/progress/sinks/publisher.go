package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/progress"
)

// PublisherSink forwards stage-completion events to a notification topic.
// Per-item answer events stay local.
type PublisherSink struct {
	publisher harvest.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink builds a sink publishing to topic.
func NewPublisherSink(publisher harvest.Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logging.OrNop(logger)}, nil
}

// Consume publishes terminal events. Every event is attempted; the first
// failure is returned.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var firstErr error
	for _, evt := range batch {
		if !evt.Stage.Terminal() && evt.Stage != progress.StageExportDone {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s for job %s: %w", evt.Stage, evt.JobID, err)
			}
			continue
		}
		s.logger.Debug("stage notification published",
			logging.JobID(evt.JobID),
			logging.Stage(string(evt.Stage)),
			zap.String("message_id", id),
		)
	}
	return firstErr
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
