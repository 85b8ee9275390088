package convo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher serves canned history and can be told to fail.
type fakeFetcher struct {
	messages map[string][]backend.Message
	convos   []backend.Conversation
	err      error
	fetches  int
}

func (f *fakeFetcher) FetchMessages(_ context.Context, chatID string) ([]backend.Message, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.messages[chatID], nil
}

func (f *fakeFetcher) FetchConversations(_ context.Context, _ string) ([]backend.Conversation, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.convos, nil
}

func testCache(f *fakeFetcher) *Cache {
	return NewCache(f, bus.New(), zap.NewNop())
}

var ana = backend.User{ID: "u-ana", Name: "Ana"}

func seededFetcher() *fakeFetcher {
	now := time.Now()
	return &fakeFetcher{
		messages: map[string][]backend.Message{
			"c1": {
				{ID: "m1", ChatID: "c1", SenderID: "u-bruno", Content: "oi", CreatedAt: now.Add(-2 * time.Hour)},
				{ID: "m2", ChatID: "c1", SenderID: "u-ana", Content: "olá", CreatedAt: now.Add(-1 * time.Hour), IsRead: true},
			},
		},
		convos: []backend.Conversation{
			{ID: "c1", Participants: []string{"u-ana", "u-bruno"}, UnreadCount: 1, UpdatedAt: now.Add(-1 * time.Hour)},
			{ID: "c2", Participants: []string{"u-ana", "u-carla"}, UpdatedAt: now.Add(-3 * time.Hour)},
		},
	}
}

func TestSendOptimisticAppendsAndBumps(t *testing.T) {
	c := testCache(seededFetcher())
	ctx := context.Background()

	_, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	_, err = c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)

	// c1 is not at the front before the send.
	convos, err := c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)
	assert.Equal(t, "c1", convos[0].ID)

	msg := c.SendOptimistic("c2", "manda a cesta?", ana, nil)
	assert.Equal(t, backend.StatusSending, msg.Status)
	assert.NotEmpty(t, msg.ClientID)
	assert.Equal(t, "temp-"+msg.ClientID, msg.ID)

	convos, err = c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)
	assert.Equal(t, "c2", convos[0].ID, "conversation moves to front on send")
	require.NotNil(t, convos[0].LastMessage)
	assert.Equal(t, msg.ID, convos[0].LastMessage.ID)

	msgs, err := c.Messages(ctx, "c2", false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ClientID, msgs[0].ClientID)
}

func TestReconcilePreservesPosition(t *testing.T) {
	c := testCache(seededFetcher())
	ctx := context.Background()

	_, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)

	optimistic := c.SendOptimistic("c1", "novo pedido", ana, nil)
	// A later optimistic message lands after it.
	c.SendOptimistic("c1", "e mais um", ana, nil)

	confirmed := backend.Message{
		ID: "m-srv-1", ChatID: "c1", SenderID: "u-ana",
		Content: "novo pedido", CreatedAt: time.Now(),
		Status: backend.StatusSent, ClientID: optimistic.ClientID,
	}
	c.ReconcileSent(confirmed)

	msgs, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	// Position 2 (after the two fetched messages), not re-appended.
	assert.Equal(t, "m-srv-1", msgs[2].ID)
	assert.Equal(t, backend.StatusDelivered, msgs[2].Status)

	// Exactly one message with this lineage.
	count := 0
	for _, m := range msgs {
		if m.ClientID == optimistic.ClientID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// Two pending messages confirmed out of order: each reconciles
// independently without disturbing the other.
func TestReconcileOutOfOrder(t *testing.T) {
	c := testCache(&fakeFetcher{messages: map[string][]backend.Message{}})
	ctx := context.Background()

	older := c.SendOptimistic("c1", "primeiro", ana, nil)
	newer := c.SendOptimistic("c1", "segundo", ana, nil)

	// Newer confirms first.
	c.ReconcileSent(backend.Message{
		ID: "m-b", ChatID: "c1", SenderID: "u-ana", Content: "segundo",
		CreatedAt: time.Now(), ClientID: newer.ClientID,
	})
	c.ReconcileSent(backend.Message{
		ID: "m-a", ChatID: "c1", SenderID: "u-ana", Content: "primeiro",
		CreatedAt: time.Now(), ClientID: older.ClientID,
	})

	msgs, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-a", msgs[0].ID, "older keeps its position")
	assert.Equal(t, "m-b", msgs[1].ID)
	assert.Equal(t, backend.StatusDelivered, msgs[0].Status)
	assert.Equal(t, backend.StatusDelivered, msgs[1].Status)
}

func TestMarkFailed(t *testing.T) {
	c := testCache(&fakeFetcher{messages: map[string][]backend.Message{}})

	msg := c.SendOptimistic("c1", "vai falhar", ana, nil)
	c.MarkFailed(msg.ClientID)

	msgs, err := c.Messages(context.Background(), "c1", false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, backend.StatusFailed, msgs[0].Status)
	assert.Equal(t, msg.ClientID, msgs[0].ClientID, "failed message stays visible")
}

func TestMessagesFetchFallback(t *testing.T) {
	f := seededFetcher()
	c := testCache(f)
	ctx := context.Background()

	first, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Server goes away; forced refresh serves the cached copy.
	f.err = errors.New("gateway timeout")
	again, err := c.Messages(ctx, "c1", true)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Nothing cached for an unknown chat: the error surfaces.
	_, err = c.Messages(ctx, "c-unknown", false)
	assert.Error(t, err)
}

func TestMessagesForceRefreshReplacesWholesale(t *testing.T) {
	f := seededFetcher()
	c := testCache(f)
	ctx := context.Background()

	_, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	fetchesAfterFirst := f.fetches

	// Cache hit: no new fetch.
	_, err = c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	assert.Equal(t, fetchesAfterFirst, f.fetches)

	// Server history changed; refresh replaces the list wholesale.
	f.messages["c1"] = f.messages["c1"][:1]
	msgs, err := c.Messages(ctx, "c1", true)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConversationsOrderedByActivity(t *testing.T) {
	f := seededFetcher()
	// Return them oldest-first to prove the cache sorts.
	f.convos[0], f.convos[1] = f.convos[1], f.convos[0]
	c := testCache(f)

	convos, err := c.Conversations(context.Background(), "u-ana", false)
	require.NoError(t, err)
	require.Len(t, convos, 2)
	assert.Equal(t, "c1", convos[0].ID, "most recent activity first")
}

func TestMarkRead(t *testing.T) {
	c := testCache(seededFetcher())
	ctx := context.Background()

	_, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	_, err = c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)

	c.MarkRead("c1", "u-ana")

	msgs, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID != "u-ana" {
			assert.True(t, m.IsRead, "message %s from other user should be read", m.ID)
			assert.Equal(t, backend.StatusRead, m.Status)
		}
	}

	convos, err := c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)
	for _, conv := range convos {
		if conv.ID == "c1" {
			assert.Zero(t, conv.UnreadCount)
		}
	}
}

func TestAddConversation(t *testing.T) {
	c := testCache(seededFetcher())
	ctx := context.Background()

	_, err := c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)

	fresh := backend.Conversation{ID: "c-new", Participants: []string{"u-ana", "u-dora"}}
	c.AddConversation(fresh)
	c.AddConversation(fresh) // duplicate is a no-op

	convos, err := c.Conversations(ctx, "u-ana", false)
	require.NoError(t, err)
	require.Len(t, convos, 3)
	assert.Equal(t, "c-new", convos[0].ID)
}

func TestClear(t *testing.T) {
	f := seededFetcher()
	c := testCache(f)
	ctx := context.Background()

	_, err := c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	c.Clear()

	before := f.fetches
	_, err = c.Messages(ctx, "c1", false)
	require.NoError(t, err)
	assert.Greater(t, f.fetches, before, "cleared cache refetches")
}
