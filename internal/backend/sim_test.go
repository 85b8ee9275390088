package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rafaelbarros/feira/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageConfirms(t *testing.T) {
	s := NewSimulator(SimOptions{})

	msg, err := s.SendMessage(context.Background(), store.MessagePayload{
		ClientID: "c1", ChatID: "c-demo-1", SenderID: "u-ana", Content: "oi",
	})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.NotEmpty(t, msg.ID)
	assert.NotEqual(t, "c1", msg.ID, "server id must not be the client id")
	assert.Equal(t, "c1", msg.ClientID)
	assert.Equal(t, StatusSent, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())

	history, err := s.FetchMessages(context.Background(), "c-demo-1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, history[len(history)-1].ID)
}

func TestSendMessageFailFunc(t *testing.T) {
	s := NewSimulator(SimOptions{})
	boom := errors.New("boom")
	s.SetFailFunc(func(p store.MessagePayload) error { return boom })

	_, err := s.SendMessage(context.Background(), store.MessagePayload{
		ClientID: "c1", ChatID: "c-demo-1", SenderID: "u-ana", Content: "oi",
	})
	assert.ErrorIs(t, err, boom)

	s.SetFailFunc(nil)
	_, err = s.SendMessage(context.Background(), store.MessagePayload{
		ClientID: "c2", ChatID: "c-demo-1", SenderID: "u-ana", Content: "oi",
	})
	assert.NoError(t, err)
}

func TestLatencyRespectsContext(t *testing.T) {
	s := NewSimulator(SimOptions{Latency: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.SendMessage(ctx, store.MessagePayload{ClientID: "c1", ChatID: "c-demo-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchConversationsFiltersByUser(t *testing.T) {
	s := NewSimulator(SimOptions{})

	convos, err := s.FetchConversations(context.Background(), "u-carla")
	require.NoError(t, err)
	require.Len(t, convos, 1)
	assert.Equal(t, "c-demo-2", convos[0].ID)
	require.NotNil(t, convos[0].LastMessage)
	assert.Equal(t, "m-demo-3", convos[0].LastMessage.ID)
}

func TestCreateConversation(t *testing.T) {
	s := NewSimulator(SimOptions{})

	c, err := s.CreateConversation(context.Background(), []string{"u-ana", "u-carla"}, false, "")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Ana Ribeiro", c.ParticipantNames["u-ana"])

	convos, err := s.FetchConversations(context.Background(), "u-carla")
	require.NoError(t, err)
	require.Len(t, convos, 2)
	assert.Equal(t, c.ID, convos[0].ID, "new conversation comes first")

	_, err = s.CreateConversation(context.Background(), []string{"u-ana"}, false, "")
	assert.Error(t, err)
}
