package backend

import (
	"time"

	"github.com/rafaelbarros/feira/internal/store"
)

// Delivery status values carried on UI-facing messages.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// User is the sender identity attached to outgoing messages.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// Message is a chat message as the UI sees it. Server-confirmed messages
// carry a server-assigned ID; unconfirmed optimistic messages carry a
// temporary ID and are correlated by ClientID.
type Message struct {
	ID          string             `json:"id"`
	ChatID      string             `json:"chat_id"`
	SenderID    string             `json:"sender_id"`
	Content     string             `json:"content"`
	CreatedAt   time.Time          `json:"created_at"`
	IsRead      bool               `json:"is_read"`
	Status      string             `json:"status,omitempty"`
	ClientID    string             `json:"client_id,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

// Conversation is a chat thread with participant metadata and a pointer to
// its most recent message.
type Conversation struct {
	ID                string            `json:"id"`
	Participants      []string          `json:"participants"`
	ParticipantNames  map[string]string `json:"participant_names,omitempty"`
	ParticipantImages map[string]string `json:"participant_images,omitempty"`
	LastMessage       *Message          `json:"last_message,omitempty"`
	UnreadCount       int               `json:"unread_count"`
	IsGroup           bool              `json:"is_group"`
	GroupName         string            `json:"group_name,omitempty"`
	GroupImage        string            `json:"group_image,omitempty"`
	CreatedBy         string            `json:"created_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
