package backend

import (
	"context"

	"github.com/rafaelbarros/feira/internal/store"
)

// MessageSender delivers one message to the server. It never retries
// internally; retry policy belongs to the delivery queue. Any network or
// server problem surfaces as an error.
type MessageSender interface {
	SendMessage(ctx context.Context, p store.MessagePayload) (*Message, error)
}

// HistoryFetcher reads conversation history from the server.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, chatID string) ([]Message, error)
	FetchConversations(ctx context.Context, userID string) ([]Conversation, error)
}

// Client is the full backend contract consumed by the messaging facade.
type Client interface {
	MessageSender
	HistoryFetcher
	CreateConversation(ctx context.Context, participantIDs []string, isGroup bool, groupName string) (*Conversation, error)
}
