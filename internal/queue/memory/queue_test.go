package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[string]()
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, q.Add(ctx, v))
	}

	var got []string
	for {
		item, ok, err := q.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, item)
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestQueueNextOnEmptyReturnsNone(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	item, ok, err := q.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, item)
}

func TestQueueAddCanceled(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Add(ctx, 1)
	require.EqualError(t, err, "add canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	require.NoError(t, q.Add(context.Background(), 1))
	q.Close()
	require.ErrorIs(t, q.Add(context.Background(), 2), ErrClosed)

	item, ok, err := q.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, item)
	// Closing twice should be safe.
	q.Close()
}
