package bus

import "time"

// Event kinds published by the coordinator. Subscribers filter by prefix
// ("chat.", "presence.", "conn.").
const (
	DialogCreated   = "chat.dialog_created"
	MessageAppended = "chat.message_appended"
	MessageDeleted  = "chat.message_deleted"
	MessagesSeen    = "chat.messages_seen"

	UserOnline     = "presence.online"
	UserOffline    = "presence.offline"
	ProfileUpdated = "presence.profile_updated"

	ConnStateChanged = "conn.state_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// SeenMark is the payload of MessagesSeen.
type SeenMark struct {
	DialogID string
	UserID   string
	At       time.Time
}

// Tombstone is the payload of MessageDeleted.
type Tombstone struct {
	DialogID  string
	MessageID string
}

// Client-side outbox events, published by internal/outbox.
const (
	OutboxQueued = "outbox.queued"
	OutboxSent   = "outbox.sent"
	OutboxFailed = "outbox.failed"
)
