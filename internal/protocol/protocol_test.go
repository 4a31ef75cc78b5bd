package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
)

func TestDecodeValid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Command
	}{
		{"open dialog", `{"event":"open_dialog","data":{"userId":"u2"}}`, OpenDialog{UserID: "u2"}},
		{"typing", `{"event":"typing_start","data":{"dialogId":"d1"}}`, TypingStart{DialogID: "d1"}},
		{"seen", `{"event":"message_seen","data":{"dialogId":"d1"}}`, MessageSeen{DialogID: "d1"}},
		{"delete", `{"event":"delete_message","data":{"messageId":"m1","dialogId":"d1"}}`, DeleteMessage{MessageID: "m1", DialogID: "d1"}},
		{"get dialogs without data", `{"event":"get_dialogs"}`, GetDialogs{}},
		{"get users with empty data", `{"event":"get_users","data":{}}`, GetUsers{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, cmd, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if event != tt.want.Event() {
				t.Fatalf("event = %q, want %q", event, tt.want.Event())
			}
			if cmd != tt.want {
				t.Fatalf("cmd = %#v, want %#v", cmd, tt.want)
			}
		})
	}
}

func TestDecodeSendMessage(t *testing.T) {
	frame := `{"event":"send_message","data":{"dialogId":"d1","type":"image","correlationId":"c-1",
		"attachments":[{"id":"a1","url":"https://x/y.png","name":"y.png","size":12,"mime":"image/png"}]}}`
	_, cmd, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	send, ok := cmd.(SendMessage)
	if !ok {
		t.Fatalf("cmd type = %T", cmd)
	}
	if send.CorrelationID != "c-1" {
		t.Fatalf("correlation = %q", send.CorrelationID)
	}
	atts := send.DomainAttachments()
	if len(atts) != 1 || atts[0].MIME != "image/png" || atts[0].Size != 12 {
		t.Fatalf("attachments = %+v", atts)
	}
}

func TestDecodeRejects(t *testing.T) {
	long := strings.Repeat("é", MaxTextRunes+1)
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{{`},
		{"unknown event", `{"event":"explode","data":{}}`},
		{"missing payload", `{"event":"open_dialog"}`},
		{"null payload", `{"event":"open_dialog","data":null}`},
		{"wrong field type", `{"event":"open_dialog","data":{"userId":7}}`},
		{"missing user", `{"event":"open_dialog","data":{}}`},
		{"empty text", `{"event":"send_message","data":{"dialogId":"d1","type":"text","text":""}}`},
		{"text too long", `{"event":"send_message","data":{"dialogId":"d1","type":"text","text":"` + long + `"}}`},
		{"bad type", `{"event":"send_message","data":{"dialogId":"d1","type":"video","text":"hi"}}`},
		{"file without attachments", `{"event":"send_message","data":{"dialogId":"d1","type":"file"}}`},
		{"attachment missing url", `{"event":"send_message","data":{"dialogId":"d1","type":"file","attachments":[{"id":"a","name":"n","mime":"m"}]}}`},
		{"negative size", `{"event":"send_message","data":{"dialogId":"d1","type":"file","attachments":[{"id":"a","url":"u","name":"n","mime":"m","size":-1}]}}`},
		{"empty profile", `{"event":"update_profile","data":{}}`},
		{"short username", `{"event":"update_profile","data":{"username":"ab"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.frame))
			if !errors.Is(err, chat.ErrBadRequest) {
				t.Fatalf("err = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestDecodeKeepsEventOnFailure(t *testing.T) {
	event, _, err := Decode([]byte(`{"event":"typing_stop","data":{}}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if event != EventTypingStop {
		t.Fatalf("event = %q", event)
	}
}

func TestTextAtLimitAccepted(t *testing.T) {
	text := strings.Repeat("é", MaxTextRunes)
	frame, err := NewEnvelope(EventSendMessage, SendMessage{DialogID: "d1", Type: "text", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(frame); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestUpdateProfilePatch(t *testing.T) {
	_, cmd, err := Decode([]byte(`{"event":"update_profile","data":{"bio":"hello"}}`))
	if err != nil {
		t.Fatal(err)
	}
	patch := cmd.(UpdateProfile).Patch()
	if patch.Bio == nil || *patch.Bio != "hello" || patch.Username != nil {
		t.Fatalf("patch = %+v", patch)
	}
}

func TestEncodeMessage(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	m := chat.Message{ID: "m1", DialogID: "d1", SenderID: "u1", Type: chat.TypeText, Text: "hi", CreatedAt: at}
	f := MustEncode(EventNewMessage, NewMessage{Message: FromMessage(m), CorrelationID: "c9"})

	var got struct {
		Event string `json:"event"`
		Data  struct {
			Message       map[string]any `json:"message"`
			CorrelationID string         `json:"correlationId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(f.Bytes, &got); err != nil {
		t.Fatal(err)
	}
	if got.Event != EventNewMessage || got.Data.CorrelationID != "c9" {
		t.Fatalf("envelope = %+v", got)
	}
	if got.Data.Message["createdAt"].(float64) != 1700000000123 {
		t.Fatalf("createdAt = %v", got.Data.Message["createdAt"])
	}
	if seen, ok := got.Data.Message["seenBy"].([]any); !ok || len(seen) != 0 {
		t.Fatalf("seenBy = %v, want empty array", got.Data.Message["seenBy"])
	}
}

func TestErrorFor(t *testing.T) {
	f := ErrorFor(EventOpenDialog, chat.ErrInvalidSelfDialog)
	var env Envelope
	if err := json.Unmarshal(f.Bytes, &env); err != nil {
		t.Fatal(err)
	}
	var p ErrorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventError || p.Code != "invalid_self_dialog" || p.Event != EventOpenDialog {
		t.Fatalf("error payload = %+v", p)
	}
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	f := MustEncode(EventDialogsList, DialogsList{Dialogs: FromDialogs(nil)})
	if !strings.Contains(string(f.Bytes), `"dialogs":[]`) {
		t.Fatalf("frame = %s", f.Bytes)
	}
}
