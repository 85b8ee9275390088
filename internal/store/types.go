package store

// Status values for outbox entries. A message that is confirmed sent is
// deleted from the outbox rather than transitioned to a terminal status.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusFailed  = "failed"
)

// Attachment is a media attachment carried with a message.
type Attachment struct {
	ID           string `json:"id"`
	Type         string `json:"type"` // image, video, file
	URL          string `json:"url"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// MessagePayload is everything needed to attempt (and re-attempt) delivery
// of a message. Server-assigned fields (final id, confirmed timestamp) are
// deliberately absent.
type MessagePayload struct {
	ClientID    string
	ChatID      string
	SenderID    string
	Content     string
	Attachments []Attachment
}

// QueuedMessage is an outbox entry: a message not yet confirmed delivered.
type QueuedMessage struct {
	Payload       MessagePayload
	Status        string
	Attempts      int
	EnqueuedAt    int64 // unix ms
	LastAttemptAt int64 // unix ms, 0 = never attempted
}

// SentMessage is the durable record of a server-confirmed message.
type SentMessage struct {
	ID          string
	ClientID    string
	ChatID      string
	SenderID    string
	Content     string
	Attachments []Attachment
	IsRead      bool
	CreatedAt   int64 // unix ms, server-confirmed
}
