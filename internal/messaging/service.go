// Package messaging is the public surface the UI consumes. It wires the
// conversation cache, the delivery queue, and the backend client together
// and hides the queue/cache mechanics behind a handful of calls.
package messaging

import (
	"context"
	"fmt"

	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/convo"
	"github.com/rafaelbarros/feira/internal/queue"
	"github.com/rafaelbarros/feira/internal/store"
	"go.uber.org/zap"
)

// Service composes the messaging core. Construct with New; Close releases
// the queue subscriptions.
type Service struct {
	cache  *convo.Cache
	queue  *queue.Queue
	client backend.Client
	logger *zap.Logger
	unsubs []func()
}

// New wires the facade: confirmed deliveries reconcile the cache, exhausted
// deliveries flip the optimistic entry to failed.
func New(cache *convo.Cache, q *queue.Queue, client backend.Client, logger *zap.Logger) *Service {
	s := &Service{
		cache:  cache,
		queue:  q,
		client: client,
		logger: logger,
	}
	s.unsubs = append(s.unsubs,
		q.OnSent(func(m backend.Message) {
			s.cache.ReconcileSent(m)
		}),
		q.OnFailed(func(qm store.QueuedMessage) {
			s.cache.MarkFailed(qm.Payload.ClientID)
		}),
	)
	return s
}

// Send returns immediately with the optimistic message; delivery happens in
// the background. An enqueue error (e.g. storage unavailable) surfaces to
// the caller and the optimistic entry is marked failed rather than lost.
func (s *Service) Send(chatID, content string, sender backend.User, attachments []store.Attachment) (backend.Message, error) {
	msg := s.cache.SendOptimistic(chatID, content, sender, attachments)

	_, err := s.queue.Enqueue(store.MessagePayload{
		ClientID:    msg.ClientID,
		ChatID:      chatID,
		SenderID:    sender.ID,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.Error(err), zap.String("client_id", msg.ClientID))
		s.cache.MarkFailed(msg.ClientID)
		msg.Status = backend.StatusFailed
		return msg, fmt.Errorf("send: %w", err)
	}
	return msg, nil
}

// Messages lists a conversation's messages from the cache, fetching on a
// miss or when forceRefresh is set.
func (s *Service) Messages(ctx context.Context, chatID string, forceRefresh bool) ([]backend.Message, error) {
	return s.cache.Messages(ctx, chatID, forceRefresh)
}

// Conversations lists a user's conversations, most recent activity first.
func (s *Service) Conversations(ctx context.Context, userID string, forceRefresh bool) ([]backend.Conversation, error) {
	return s.cache.Conversations(ctx, userID, forceRefresh)
}

// StartConversation creates a conversation on the backend and mirrors it
// into the cache.
func (s *Service) StartConversation(ctx context.Context, participantIDs []string, isGroup bool, groupName string) (*backend.Conversation, error) {
	conv, err := s.client.CreateConversation(ctx, participantIDs, isGroup, groupName)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	s.cache.AddConversation(*conv)
	return conv, nil
}

// MarkRead marks the conversation read for userID in the local cache.
func (s *Service) MarkRead(chatID, userID string) {
	s.cache.MarkRead(chatID, userID)
}

// PendingCount reports how many messages await delivery, for UI badges.
func (s *Service) PendingCount() (int, error) {
	return s.queue.PendingCount()
}

// FailedCount reports how many messages exhausted their retries.
func (s *Service) FailedCount() (int, error) {
	return s.queue.FailedCount()
}

// RetryFailed re-queues every failed message with a fresh attempt budget.
func (s *Service) RetryFailed() (int, error) {
	return s.queue.RetryFailed()
}

// Close detaches the facade from the queue.
func (s *Service) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}
