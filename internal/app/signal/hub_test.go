package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offerFrom(conv, from string) Signal {
	return Signal{ConversationID: conv, From: from, Payload: Offer{SDP: "x"}}
}

func TestJoinCreatesChannelLazily(t *testing.T) {
	hub := NewHub(4)
	assert.Zero(t, hub.Conversations())

	ch, sub, err := hub.Join("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", ch.ConversationID())
	assert.Equal(t, 1, hub.Conversations())
	assert.Equal(t, 1, hub.Subscribers("c1"))

	ch2, sub2, err := hub.Join("c1")
	require.NoError(t, err)
	assert.Same(t, ch, ch2)
	assert.Equal(t, 2, hub.Subscribers("c1"))

	sub.Close()
	sub2.Close()
}

func TestPublishReachesOnlyThatConversation(t *testing.T) {
	hub := NewHub(4)
	c1, a, err := hub.Join("c1")
	require.NoError(t, err)
	_, b, err := hub.Join("c1")
	require.NoError(t, err)
	_, other, err := hub.Join("c2")
	require.NoError(t, err)

	assert.Equal(t, 2, c1.Publish(offerFrom("c1", "ann")))

	assert.Equal(t, "ann", (<-a.Signals()).From)
	assert.Equal(t, "ann", (<-b.Signals()).From)
	assert.Empty(t, other.Signals())
}

func TestLastCloseRemovesChannel(t *testing.T) {
	hub := NewHub(4)
	ch, a, err := hub.Join("c1")
	require.NoError(t, err)
	_, b, err := hub.Join("c1")
	require.NoError(t, err)

	a.Close()
	a.Close()
	assert.Equal(t, 1, hub.Subscribers("c1"))

	b.Close()
	assert.Zero(t, hub.Conversations())
	assert.Zero(t, hub.Subscribers("c1"))

	// A stale handle publishing into an empty channel is a no-op.
	assert.Zero(t, ch.Publish(offerFrom("c1", "ann")))

	_, ok := <-a.Signals()
	assert.False(t, ok)

	// A later join starts a fresh channel.
	fresh, c, err := hub.Join("c1")
	require.NoError(t, err)
	assert.NotSame(t, ch, fresh)
	c.Close()
}

func TestFullSubscriberQueueDropsOnlyForThatSubscriber(t *testing.T) {
	hub := NewHub(1)
	ch, slow, err := hub.Join("c1")
	require.NoError(t, err)

	assert.Equal(t, 1, ch.Publish(offerFrom("c1", "ann")))
	assert.Zero(t, ch.Publish(offerFrom("c1", "ann")))

	_, fast, err := hub.Join("c1")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Publish(offerFrom("c1", "bob")))
	assert.Equal(t, "bob", (<-fast.Signals()).From)
	assert.Equal(t, "ann", (<-slow.Signals()).From)
}

func TestJoinAfterShutdown(t *testing.T) {
	hub := NewHub(1)
	require.NoError(t, hub.Shutdown(context.Background()))

	_, _, err := hub.Join("c1")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.Error(t, hub.ctx.Err())
}
