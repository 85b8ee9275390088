// Package convo holds the in-memory conversation cache: the optimistic,
// immediately-consistent view the UI renders, independent of delivery
// timing. The cache is process-lifetime only; it is rebuilt from server
// fetches after a restart, while durability lives in the outbox store.
package convo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelbarros/feira/internal/backend"
	"github.com/rafaelbarros/feira/internal/bus"
	"github.com/rafaelbarros/feira/internal/store"
	"go.uber.org/zap"
)

// Cache maps conversation ids to their ordered message lists and keeps the
// conversation summaries in most-recently-active-first order.
type Cache struct {
	mu      sync.Mutex
	fetcher backend.HistoryFetcher
	bus     *bus.Bus
	logger  *zap.Logger

	messages map[string][]backend.Message
	convos   []backend.Conversation
	loaded   bool
}

// NewCache creates an empty cache over the given history collaborator.
func NewCache(fetcher backend.HistoryFetcher, b *bus.Bus, logger *zap.Logger) *Cache {
	return &Cache{
		fetcher:  fetcher,
		bus:      b,
		logger:   logger,
		messages: make(map[string][]backend.Message),
	}
}

// SendOptimistic constructs a message with a temporary id and sending
// status, inserts it into the conversation, and bumps the conversation to
// the front of the list. Never touches the network; returns immediately.
func (c *Cache) SendOptimistic(chatID, content string, sender backend.User, attachments []store.Attachment) backend.Message {
	clientID := uuid.NewString()
	msg := backend.Message{
		ID:          "temp-" + clientID,
		ChatID:      chatID,
		SenderID:    sender.ID,
		Content:     content,
		CreatedAt:   time.Now(),
		Status:      backend.StatusSending,
		ClientID:    clientID,
		Attachments: attachments,
	}

	c.mu.Lock()
	c.upsertMessageLocked(chatID, msg)
	c.bumpConversationLocked(chatID, &msg)
	c.mu.Unlock()

	c.publishUpdated(chatID)
	return msg
}

// ReconcileSent replaces the optimistic entry sharing the confirmed
// message's client id with the confirmed version, in place: the message
// keeps its list position so the UI does not reorder on confirmation.
func (c *Cache) ReconcileSent(m backend.Message) {
	m.Status = backend.StatusDelivered

	c.mu.Lock()
	msgs := c.messages[m.ChatID]
	idx := findMessage(msgs, m.ClientID, "temp-"+m.ClientID)
	if idx >= 0 {
		msgs[idx] = m
	} else {
		// No optimistic entry (e.g. cache was refreshed meanwhile).
		c.upsertMessageLocked(m.ChatID, m)
	}
	c.bumpConversationLocked(m.ChatID, &m)
	c.mu.Unlock()

	c.publishUpdated(m.ChatID)
}

// MarkFailed flips the matching optimistic entry to failed status in
// place, keeping it visible for a retry affordance.
func (c *Cache) MarkFailed(clientID string) {
	c.mu.Lock()
	var chatID string
	for id, msgs := range c.messages {
		if idx := findMessage(msgs, clientID, "temp-"+clientID); idx >= 0 {
			msgs[idx].Status = backend.StatusFailed
			chatID = id
			break
		}
	}
	c.mu.Unlock()

	if chatID != "" {
		c.publishUpdated(chatID)
	}
}

// Messages returns the cached list for a conversation, fetching from the
// server on a miss or when forceRefresh is set. A fetch failure falls back
// to whatever is cached: stale data beats an empty screen.
func (c *Cache) Messages(ctx context.Context, chatID string, forceRefresh bool) ([]backend.Message, error) {
	c.mu.Lock()
	cached, ok := c.messages[chatID]
	c.mu.Unlock()

	if ok && !forceRefresh {
		return copyMessages(cached), nil
	}

	fetched, err := c.fetcher.FetchMessages(ctx, chatID)
	if err != nil {
		c.logger.Warn("message fetch failed, serving cache", zap.Error(err), zap.String("chat_id", chatID))
		if ok {
			return copyMessages(cached), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.messages[chatID] = fetched
	c.mu.Unlock()
	return copyMessages(fetched), nil
}

// Conversations returns the conversation summaries for a user, most recent
// activity first, fetching on first use or when forceRefresh is set.
func (c *Cache) Conversations(ctx context.Context, userID string, forceRefresh bool) ([]backend.Conversation, error) {
	c.mu.Lock()
	loaded := c.loaded
	cached := append([]backend.Conversation(nil), c.convos...)
	c.mu.Unlock()

	if loaded && !forceRefresh {
		return cached, nil
	}

	fetched, err := c.fetcher.FetchConversations(ctx, userID)
	if err != nil {
		c.logger.Warn("conversation fetch failed, serving cache", zap.Error(err), zap.String("user_id", userID))
		if loaded {
			return cached, nil
		}
		return nil, err
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].UpdatedAt.After(fetched[j].UpdatedAt)
	})

	c.mu.Lock()
	c.convos = fetched
	c.loaded = true
	c.mu.Unlock()
	return append([]backend.Conversation(nil), fetched...), nil
}

// MarkRead marks every cached message not sent by userID as read and
// zeroes the conversation's unread counter. Local cache only; read state
// is not persisted server-side.
func (c *Cache) MarkRead(chatID, userID string) {
	c.mu.Lock()
	msgs := c.messages[chatID]
	for i := range msgs {
		if msgs[i].SenderID != userID && !msgs[i].IsRead {
			msgs[i].IsRead = true
			msgs[i].Status = backend.StatusRead
		}
	}
	for i := range c.convos {
		if c.convos[i].ID == chatID {
			c.convos[i].UnreadCount = 0
			break
		}
	}
	c.mu.Unlock()

	c.publishUpdated(chatID)
}

// AddConversation front-inserts a newly created conversation if it is not
// already known.
func (c *Cache) AddConversation(conv backend.Conversation) {
	c.mu.Lock()
	for _, existing := range c.convos {
		if existing.ID == conv.ID {
			c.mu.Unlock()
			return
		}
	}
	c.convos = append([]backend.Conversation{conv}, c.convos...)
	c.loaded = true
	c.mu.Unlock()

	c.publishUpdated(conv.ID)
}

// Clear drops both caches; used on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.messages = make(map[string][]backend.Message)
	c.convos = nil
	c.loaded = false
	c.mu.Unlock()
}

// upsertMessageLocked inserts or replaces a message in a conversation's
// list, keyed by client id or id, keeping chronological order. A logical
// message therefore appears at most once per list.
func (c *Cache) upsertMessageLocked(chatID string, msg backend.Message) {
	msgs := c.messages[chatID]
	if idx := findMessage(msgs, msg.ClientID, msg.ID); idx >= 0 {
		msgs[idx] = msg
		return
	}
	msgs = append(msgs, msg)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	c.messages[chatID] = msgs
}

// bumpConversationLocked updates a conversation's last message and moves
// it to the front of the summaries list.
func (c *Cache) bumpConversationLocked(chatID string, msg *backend.Message) {
	for i := range c.convos {
		if c.convos[i].ID != chatID {
			continue
		}
		conv := c.convos[i]
		conv.LastMessage = msg
		conv.UpdatedAt = msg.CreatedAt
		c.convos = append(c.convos[:i], c.convos[i+1:]...)
		c.convos = append([]backend.Conversation{conv}, c.convos...)
		return
	}
}

func (c *Cache) publishUpdated(chatID string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.KindConvoUpdated,
		Timestamp: time.Now(),
		Payload:   map[string]string{"chat_id": chatID},
	})
}

func findMessage(msgs []backend.Message, clientID, id string) int {
	for i := range msgs {
		if clientID != "" && msgs[i].ClientID == clientID {
			return i
		}
		if id != "" && msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func copyMessages(msgs []backend.Message) []backend.Message {
	return append([]backend.Message(nil), msgs...)
}
