// Package protocol defines the websocket wire format: every frame is an
// envelope naming the event and carrying a fixed-schema payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/pairchat/internal/chat"
)

// Inbound events (client -> core).
const (
	EventOpenDialog    = "open_dialog"
	EventSendMessage   = "send_message"
	EventDeleteMessage = "delete_message"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventMessageSeen   = "message_seen"
	EventUpdateProfile = "update_profile"
	EventGetDialogs    = "get_dialogs"
	EventGetUsers      = "get_users"
)

// Outbound events (core -> client).
const (
	EventDialogsList       = "dialogs_list"
	EventMessagesList      = "messages_list"
	EventNewMessage        = "new_message"
	EventMessageDeleted    = "message_deleted"
	EventUserTyping        = "user_typing"
	EventUserStopTyping    = "user_stop_typing"
	EventMessagesSeen      = "messages_seen"
	EventUserStatusUpdated = "user_status_updated"
	EventUsersList         = "users_list"
	EventError             = "error"
)

// Envelope is one websocket text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the payload of env into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: empty payload", env.Event)
	}
	return json.Unmarshal(env.Data, v)
}

// Frame is an encoded outbound envelope, shared by every recipient of a fan-out.
type Frame struct {
	Event string
	Bytes []byte
}

// Encode marshals an outbound event.
func Encode(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Frame{Event: event, Bytes: b}, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(event string, data any) Frame {
	f, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return f
}

// ErrorFor builds the error reply sent to the connection whose command failed.
func ErrorFor(event string, err error) Frame {
	return ErrorWithCorrelation(event, "", err)
}

// ErrorWithCorrelation is ErrorFor for a send that carried a correlation id,
// letting the client fail its provisional entry.
func ErrorWithCorrelation(event, correlationID string, err error) Frame {
	return MustEncode(EventError, ErrorPayload{
		Event:         event,
		Code:          chat.Code(err),
		Message:       err.Error(),
		CorrelationID: correlationID,
	})
}
