package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "snapshots", map[string]int64{"entry_id": 10})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "snapshots", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "snapshots", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "snapshots", pub.Messages()[0].Topic, "Messages must return a copy")

	pub.Fail(context.DeadlineExceeded)
	_, err = pub.Publish(context.Background(), "snapshots", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, pub.Messages(), 2)
}
