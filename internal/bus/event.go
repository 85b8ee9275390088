package bus

import "time"

// Event kinds published by the messaging core. Subscribers filter by
// namespace prefix, e.g. "queue." matches every queue event.
const (
	KindMessageSent   = "queue.message_sent"
	KindMessageFailed = "queue.message_failed"
	KindConvoUpdated  = "conversation.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
