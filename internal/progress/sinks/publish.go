package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
)

// GraphMergedMessage is the notification published when a document's
// fragment lands in the graph.
type GraphMergedMessage struct {
	EventID  string    `json:"event_id"`
	URL      string    `json:"url"`
	Site     string    `json:"site,omitempty"`
	Nodes    int       `json:"nodes"`
	Edges    int       `json:"edges"`
	MergedAt time.Time `json:"merged_at"`
}

// PublishSink forwards graph-merge completions to a Publisher.
type PublishSink struct {
	publisher knowledge.Publisher
	kind      string
	logger    *zap.Logger
}

// NewPublishSink constructs a PublishSink. kind is passed through as the
// Publish topic argument.
func NewPublishSink(publisher knowledge.Publisher, kind string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if kind == "" {
		kind = string(progress.StageGraphMerge)
	}
	return &PublishSink{publisher: publisher, kind: kind, logger: logger}
}

// Consume publishes one message per processed graph merge. The first publish
// error aborts the batch.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageGraphMerge || evt.Outcome != progress.OutcomeProcessed {
			continue
		}
		msg := GraphMergedMessage{
			EventID:  evt.EventUUID().String(),
			URL:      evt.URL,
			Site:     evt.Site,
			Nodes:    evt.Nodes,
			Edges:    evt.Edges,
			MergedAt: evt.TS,
		}
		id, err := s.publisher.Publish(ctx, s.kind, msg)
		if err != nil {
			return fmt.Errorf("publish graph merge for %s: %w", evt.URL, err)
		}
		s.logger.Debug("graph merge published", zap.String("url", evt.URL), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
