package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/samber/lo"
)

// Limits mirrored in the validate tags below.
const (
	MaxTextRunes   = 4096
	MaxAttachments = 10
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Command is a decoded, validated inbound event.
type Command interface {
	Event() string
}

// OpenDialog asks for the dialog with another user.
type OpenDialog struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// AttachmentDTO references an uploaded object.
type AttachmentDTO struct {
	ID   string `json:"id" validate:"required,max=128"`
	URL  string `json:"url" validate:"required,max=2048"`
	Name string `json:"name" validate:"required,max=256"`
	Size int64  `json:"size" validate:"gte=0"`
	MIME string `json:"mime" validate:"required,max=128"`
}

// SendMessage appends a message to a dialog.
type SendMessage struct {
	DialogID      string          `json:"dialogId" validate:"required,max=128"`
	Type          string          `json:"type" validate:"required,oneof=text image file"`
	Text          string          `json:"text,omitempty" validate:"max=4096"`
	Attachments   []AttachmentDTO `json:"attachments,omitempty" validate:"max=10,dive"`
	CorrelationID string          `json:"correlationId,omitempty" validate:"max=128"`
}

// DeleteMessage tombstones a message.
type DeleteMessage struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
	DialogID  string `json:"dialogId" validate:"required,max=128"`
}

// TypingStart, TypingStop and MessageSeen all address one dialog.
type (
	TypingStart struct {
		DialogID string `json:"dialogId" validate:"required,max=128"`
	}
	TypingStop struct {
		DialogID string `json:"dialogId" validate:"required,max=128"`
	}
	MessageSeen struct {
		DialogID string `json:"dialogId" validate:"required,max=128"`
	}
)

// UpdateProfile edits the caller's profile. Omitted fields are unchanged.
type UpdateProfile struct {
	Username  *string `json:"username,omitempty" validate:"omitempty,min=3,max=32"`
	FirstName *string `json:"firstName,omitempty" validate:"omitempty,max=256"`
	LastName  *string `json:"lastName,omitempty" validate:"omitempty,max=256"`
	Bio       *string `json:"bio,omitempty" validate:"omitempty,max=256"`
	PhotoURL  *string `json:"photoUrl,omitempty" validate:"omitempty,max=2048"`
}

// GetDialogs and GetUsers carry no payload.
type (
	GetDialogs struct{}
	GetUsers   struct{}
)

func (OpenDialog) Event() string    { return EventOpenDialog }
func (SendMessage) Event() string   { return EventSendMessage }
func (DeleteMessage) Event() string { return EventDeleteMessage }
func (TypingStart) Event() string   { return EventTypingStart }
func (TypingStop) Event() string    { return EventTypingStop }
func (MessageSeen) Event() string   { return EventMessageSeen }
func (UpdateProfile) Event() string { return EventUpdateProfile }
func (GetDialogs) Event() string    { return EventGetDialogs }
func (GetUsers) Event() string      { return EventGetUsers }

// Patch converts the command into a domain profile patch.
func (u UpdateProfile) Patch() chat.ProfilePatch {
	return chat.ProfilePatch{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
		PhotoURL:  u.PhotoURL,
	}
}

// DomainAttachments converts the wire attachments.
func (s SendMessage) DomainAttachments() []chat.Attachment {
	return lo.Map(s.Attachments, func(a AttachmentDTO, _ int) chat.Attachment {
		return chat.Attachment{ID: a.ID, URL: a.URL, Name: a.Name, Size: a.Size, MIME: a.MIME}
	})
}

// Decode parses one inbound frame. The returned event name is set whenever the
// envelope itself parsed, so callers can address error replies. Every failure
// wraps chat.ErrBadRequest.
func Decode(frame []byte) (string, Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("malformed envelope: %w", chat.ErrBadRequest)
	}

	var cmd Command
	switch env.Event {
	case EventOpenDialog:
		cmd = &OpenDialog{}
	case EventSendMessage:
		cmd = &SendMessage{}
	case EventDeleteMessage:
		cmd = &DeleteMessage{}
	case EventTypingStart:
		cmd = &TypingStart{}
	case EventTypingStop:
		cmd = &TypingStop{}
	case EventMessageSeen:
		cmd = &MessageSeen{}
	case EventUpdateProfile:
		cmd = &UpdateProfile{}
	case EventGetDialogs:
		return env.Event, GetDialogs{}, nil
	case EventGetUsers:
		return env.Event, GetUsers{}, nil
	default:
		return env.Event, nil, fmt.Errorf("unknown event %q: %w", env.Event, chat.ErrBadRequest)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Event, nil, fmt.Errorf("%s: missing payload: %w", env.Event, chat.ErrBadRequest)
	}
	if err := json.Unmarshal(env.Data, cmd); err != nil {
		return env.Event, nil, fmt.Errorf("%s: malformed payload: %w", env.Event, chat.ErrBadRequest)
	}
	if err := validate.Struct(cmd); err != nil {
		return env.Event, nil, fmt.Errorf("%s: %s: %w", env.Event, describe(err), chat.ErrBadRequest)
	}
	if err := checkRules(cmd); err != nil {
		return env.Event, nil, fmt.Errorf("%s: %v: %w", env.Event, err, chat.ErrBadRequest)
	}
	return env.Event, deref(cmd), nil
}

// checkRules covers cross-field constraints the struct tags cannot express.
func checkRules(cmd Command) error {
	switch c := cmd.(type) {
	case *SendMessage:
		switch chat.MessageType(c.Type) {
		case chat.TypeText:
			if c.Text == "" {
				return errors.New("text message needs text")
			}
		case chat.TypeImage, chat.TypeFile:
			if len(c.Attachments) == 0 {
				return fmt.Errorf("%s message needs at least one attachment", c.Type)
			}
		}
	case *UpdateProfile:
		if c.Patch().Empty() {
			return errors.New("nothing to update")
		}
	}
	return nil
}

func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *OpenDialog:
		return *c
	case *SendMessage:
		return *c
	case *DeleteMessage:
		return *c
	case *TypingStart:
		return *c
	case *TypingStop:
		return *c
	case *MessageSeen:
		return *c
	case *UpdateProfile:
		return *c
	}
	return cmd
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag())
}

// NewEnvelope builds an inbound frame; used by clients and tests.
func NewEnvelope(event string, data any) ([]byte, error) {
	if data == nil {
		return json.Marshal(Envelope{Event: event})
	}
	f, err := Encode(event, data)
	if err != nil {
		return nil, err
	}
	return f.Bytes, nil
}
