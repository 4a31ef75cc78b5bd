package chat

import (
	"slices"
	"time"
)

// User is the cached profile + presence view of an account.
type User struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	Bio       string
	PhotoURL  string
	Online    bool
	LastSeen  time.Time
	CreatedAt time.Time
}

// ProfilePatch carries the editable profile fields. Nil fields are left unchanged.
type ProfilePatch struct {
	Username  *string
	FirstName *string
	LastName  *string
	Bio       *string
	PhotoURL  *string
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.Username == nil && p.FirstName == nil && p.LastName == nil && p.Bio == nil && p.PhotoURL == nil
}

// Apply merges the patch into u. Presence fields are never touched.
func (p ProfilePatch) Apply(u *User) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.PhotoURL != nil {
		u.PhotoURL = *p.PhotoURL
	}
}

// Dialog is the single conversation between two users.
type Dialog struct {
	ID            string
	Participants  [2]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageID string // empty until the first message
}

// Has reports whether userID is one of the two participants.
func (d Dialog) Has(userID string) bool {
	return d.Participants[0] == userID || d.Participants[1] == userID
}

// Peer returns the participant that is not userID.
func (d Dialog) Peer(userID string) string {
	if d.Participants[0] == userID {
		return d.Participants[1]
	}
	return d.Participants[0]
}

// MessageType enumerates the supported message kinds.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	}
	return false
}

// Attachment references an already uploaded object.
type Attachment struct {
	ID   string
	URL  string
	Name string
	Size int64
	MIME string
}

// Message is one entry of a dialog's log.
type Message struct {
	ID          string
	DialogID    string
	SenderID    string
	Type        MessageType
	Text        string
	Attachments []Attachment
	CreatedAt   time.Time
	Deleted     bool
	SeenBy      []string // insertion ordered, sender first
}

// Clone returns a deep copy safe to hand out of a store.
func (m Message) Clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	m.SeenBy = slices.Clone(m.SeenBy)
	return m
}

// SeenByUser reports whether userID has seen the message.
func (m Message) SeenByUser(userID string) bool {
	return slices.Contains(m.SeenBy, userID)
}
