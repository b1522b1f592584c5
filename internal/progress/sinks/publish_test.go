package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/knowledge-engine/internal/progress"
	memorypublisher "github.com/JakeFAU/knowledge-engine/internal/publisher/memory"
)

func TestPublishSinkForwardsGraphMerges(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sink := NewPublishSink(pub, "", nil)

	merged := progress.NewEvent(progress.StageGraphMerge, progress.OutcomeProcessed, "https://example.com/a")
	merged.Nodes = 2
	merged.Edges = 1
	batch := []progress.Event{
		progress.NewEvent(progress.StageFetch, progress.OutcomeProcessed, "https://example.com/a"),
		progress.NewEvent(progress.StageGraphMerge, progress.OutcomeDropped, "https://example.com/b"),
		merged,
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "graph_merge", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(GraphMergedMessage)
	require.True(t, ok)
	require.Equal(t, "https://example.com/a", payload.URL)
	require.Equal(t, 2, payload.Nodes)
	require.Equal(t, 1, payload.Edges)
	require.Equal(t, merged.EventUUID().String(), payload.EventID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("unavailable")
}

func TestPublishSinkReturnsPublishError(t *testing.T) {
	t.Parallel()

	sink := NewPublishSink(failingPublisher{}, "notifications", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		progress.NewEvent(progress.StageGraphMerge, progress.OutcomeProcessed, "https://example.com/a"),
	})
	require.ErrorContains(t, err, "unavailable")
}

func TestPublishSinkWithoutPublisherIsNoop(t *testing.T) {
	t.Parallel()

	sink := NewPublishSink(nil, "", nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.NewEvent(progress.StageGraphMerge, progress.OutcomeProcessed, "https://example.com/a"),
	}))
}
