package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/protocol"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	DialogID      string
	Text          string
	CorrelationID string
}

func (m *mockSender) SendText(_ context.Context, dialogID, text, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{dialogID, text, correlationID})
	return m.err
}

func TestSendThenAck(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	mock := &mockSender{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(mock, b, time.Minute, logger)

	e, err := s.Send(context.Background(), "d1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != Sending || e.CorrelationID == "" {
		t.Fatalf("entry = %+v", e)
	}
	if len(mock.calls) != 1 || mock.calls[0] != (sendCall{"d1", "hello", e.CorrelationID}) {
		t.Fatalf("calls = %+v", mock.calls)
	}
	if got := s.Unconfirmed("d1"); len(got) != 1 {
		t.Fatalf("unconfirmed = %+v", got)
	}

	// Messages without our correlation id are not ours.
	if _, ok := s.Ack(protocol.NewMessage{Message: protocol.MessageDTO{ID: "x"}}); ok {
		t.Fatal("acked a message without correlation id")
	}

	acked, ok := s.Ack(protocol.NewMessage{
		Message:       protocol.MessageDTO{ID: "m1", DialogID: "d1", Text: "hello"},
		CorrelationID: e.CorrelationID,
	})
	if !ok || acked.Status != Sent || acked.Message.ID != "m1" {
		t.Fatalf("ack = %+v, %v", acked, ok)
	}
	if got := s.Unconfirmed("d1"); len(got) != 0 {
		t.Fatalf("unconfirmed after ack = %+v", got)
	}
	// A second delivery of the same frame, e.g. on another device, is ignored.
	if _, ok := s.Ack(protocol.NewMessage{Message: protocol.MessageDTO{ID: "m1"}, CorrelationID: e.CorrelationID}); ok {
		t.Fatal("acked twice")
	}

	for _, want := range []string{bus.OutboxQueued, bus.OutboxSent} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("event kind = %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestTransportFailure(t *testing.T) {
	mock := &mockSender{err: errors.New("connection closed")}
	s := NewSender(mock, nil, time.Minute, nil)

	e, err := s.Send(context.Background(), "d1", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if e.Status != Failed || e.Err != "connection closed" {
		t.Fatalf("entry = %+v", e)
	}
	got := s.Unconfirmed("d1")
	if len(got) != 1 || got[0].Status != Failed {
		t.Fatalf("unconfirmed = %+v", got)
	}
	s.Dismiss(e.CorrelationID)
	if got := s.Unconfirmed("d1"); len(got) != 0 {
		t.Fatalf("after dismiss = %+v", got)
	}
}

func TestRejectByCorrelationID(t *testing.T) {
	s := NewSender(&mockSender{}, nil, time.Minute, nil)
	e, _ := s.Send(context.Background(), "d1", "hello")

	if _, ok := s.Reject(protocol.ErrorPayload{Code: "not_participant"}); ok {
		t.Fatal("rejected without correlation id")
	}
	got, ok := s.Reject(protocol.ErrorPayload{Event: "send_message", Code: "not_participant", Message: "not a participant of the dialog", CorrelationID: e.CorrelationID})
	if !ok || got.Status != Failed || got.Err != "not a participant of the dialog" {
		t.Fatalf("reject = %+v, %v", got, ok)
	}
}

func TestExpire(t *testing.T) {
	s := NewSender(&mockSender{}, nil, 5*time.Second, nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	old, _ := s.Send(context.Background(), "d1", "old")
	s.now = func() time.Time { return base.Add(3 * time.Second) }
	fresh, _ := s.Send(context.Background(), "d1", "fresh")

	expired := s.Expire(base.Add(5 * time.Second))
	if len(expired) != 1 || expired[0].CorrelationID != old.CorrelationID || expired[0].Err != ErrTimeout.Error() {
		t.Fatalf("expired = %+v", expired)
	}

	// A late confirmation for an expired entry no longer matches.
	if _, ok := s.Ack(protocol.NewMessage{CorrelationID: old.CorrelationID}); ok {
		t.Fatal("acked an expired entry")
	}
	if _, ok := s.Ack(protocol.NewMessage{CorrelationID: fresh.CorrelationID}); !ok {
		t.Fatal("fresh entry should still be pending")
	}
}

func TestSweepLoopFailsStaleEntries(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.OutboxFailed, 1)
	defer unsub()

	s := NewSender(&mockSender{}, b, 10*time.Millisecond, nil)
	if _, err := s.Send(context.Background(), "d1", "hello"); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if e := evt.Payload.(Entry); e.Status != Failed {
			t.Fatalf("entry = %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for failure")
	}
}
