package protocol

import (
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/samber/lo"
)

// Timestamps on the wire are Unix milliseconds.

type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Bio       string `json:"bio,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	Online    bool   `json:"online"`
	LastSeen  int64  `json:"lastSeen,omitempty"`
}

type DialogDTO struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	CreatedAt     int64     `json:"createdAt"`
	UpdatedAt     int64     `json:"updatedAt"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
}

type MessageDTO struct {
	ID          string          `json:"id"`
	DialogID    string          `json:"dialogId"`
	SenderID    string          `json:"senderId"`
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Attachments []AttachmentDTO `json:"attachments,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	Deleted     bool            `json:"deleted"`
	SeenBy      []string        `json:"seenBy"`
}

// Outbound payloads.
type (
	DialogsList struct {
		Dialogs []DialogDTO `json:"dialogs"`
	}
	MessagesList struct {
		DialogID string       `json:"dialogId"`
		Messages []MessageDTO `json:"messages"`
	}
	NewMessage struct {
		Message       MessageDTO `json:"message"`
		CorrelationID string     `json:"correlationId,omitempty"`
	}
	MessageDeleted struct {
		MessageID string `json:"messageId"`
		DialogID  string `json:"dialogId"`
	}
	UserTyping struct {
		DialogID string `json:"dialogId"`
		UserID   string `json:"userId"`
	}
	MessagesSeenPayload struct {
		DialogID string `json:"dialogId"`
		UserID   string `json:"userId"`
	}
	UserStatusUpdated struct {
		User UserDTO `json:"user"`
	}
	UsersList struct {
		Users []UserDTO `json:"users"`
	}
	ErrorPayload struct {
		Event         string `json:"event,omitempty"`
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId,omitempty"`
	}
)

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of the wire timestamp encoding.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func FromUser(u chat.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
		PhotoURL:  u.PhotoURL,
		Online:    u.Online,
		LastSeen:  millis(u.LastSeen),
	}
}

func FromUsers(us []chat.User) []UserDTO {
	return lo.Map(us, func(u chat.User, _ int) UserDTO { return FromUser(u) })
}

func FromDialog(d chat.Dialog) DialogDTO {
	return DialogDTO{
		ID:            d.ID,
		Participants:  d.Participants,
		CreatedAt:     millis(d.CreatedAt),
		UpdatedAt:     millis(d.UpdatedAt),
		LastMessageID: d.LastMessageID,
	}
}

func FromDialogs(ds []chat.Dialog) []DialogDTO {
	return lo.Map(ds, func(d chat.Dialog, _ int) DialogDTO { return FromDialog(d) })
}

func FromMessage(m chat.Message) MessageDTO {
	seen := m.SeenBy
	if seen == nil {
		seen = []string{}
	}
	return MessageDTO{
		ID:       m.ID,
		DialogID: m.DialogID,
		SenderID: m.SenderID,
		Type:     string(m.Type),
		Text:     m.Text,
		Attachments: lo.Map(m.Attachments, func(a chat.Attachment, _ int) AttachmentDTO {
			return AttachmentDTO{ID: a.ID, URL: a.URL, Name: a.Name, Size: a.Size, MIME: a.MIME}
		}),
		CreatedAt: millis(m.CreatedAt),
		Deleted:   m.Deleted,
		SeenBy:    seen,
	}
}

func FromMessages(ms []chat.Message) []MessageDTO {
	return lo.Map(ms, func(m chat.Message, _ int) MessageDTO { return FromMessage(m) })
}
