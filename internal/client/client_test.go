package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/pairchat/internal/outbox"
	"github.com/matheus3301/pairchat/internal/protocol"
)

// echoServer confirms every send_message with a new_message carrying the
// same correlation id and closes the connection on "bye" text.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := r.Context()
		for {
			var env protocol.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
			if env.Event != protocol.EventSendMessage {
				continue
			}
			var cmd protocol.SendMessage
			_ = json.Unmarshal(env.Data, &cmd)
			if cmd.Text == "bye" {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
				return
			}
			out, _ := protocol.NewEnvelope(protocol.EventNewMessage, protocol.NewMessage{
				Message:       protocol.MessageDTO{ID: "m-" + cmd.CorrelationID, DialogID: cmd.DialogID, Type: cmd.Type, Text: cmd.Text, SeenBy: []string{}},
				CorrelationID: cmd.CorrelationID,
			})
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialRejected(t *testing.T) {
	srv := echoServer(t)
	_, err := Dial(context.Background(), wsURL(srv), "bad", nil)
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
}

func TestSendTextReconcilesOutbox(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), "good", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ob := outbox.NewSender(c, nil, time.Minute, nil)
	entry, err := ob.Send(ctx, "d1", "hello")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-c.Events():
		if env.Event != protocol.EventNewMessage {
			t.Fatalf("event = %q", env.Event)
		}
		var nm protocol.NewMessage
		if err := json.Unmarshal(env.Data, &nm); err != nil {
			t.Fatal(err)
		}
		got, ok := ob.Ack(nm)
		if !ok || got.CorrelationID != entry.CorrelationID || got.Message.Text != "hello" {
			t.Fatalf("ack = %+v, %v", got, ok)
		}
	case <-ctx.Done():
		t.Fatal("no confirmation")
	}
}

func TestEventsCloseWhenServerHangsUp(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), "good", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.SendText(ctx, "d1", "bye", ""); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-ctx.Done():
		t.Fatal("events channel not closed")
	}
	if websocket.CloseStatus(c.Err()) != websocket.StatusNormalClosure {
		t.Fatalf("err = %v", c.Err())
	}
}
