package hub

import (
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/matheus3301/pairchat/internal/protocol"
)

func frame(event string) protocol.Frame {
	return protocol.Frame{Event: event, Bytes: []byte(`{"event":"` + event + `"}`)}
}

func TestSendPreservesOrder(t *testing.T) {
	h := New(8, nil, nil)
	p := h.Add("c1", "u1")
	for _, e := range []string{"a", "b", "c"} {
		if !h.Send("c1", frame(e)) {
			t.Fatalf("Send(%s) not queued", e)
		}
	}
	var got []string
	for range 3 {
		got = append(got, (<-p.Outbound()).Event)
	}
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestSlowConsumerIsClosed(t *testing.T) {
	var overflows atomic.Int32
	h := New(2, func(*Peer) { overflows.Add(1) }, nil)
	p := h.Add("c1", "u1")

	h.Send("c1", frame("1"))
	h.Send("c1", frame("2"))
	if h.Send("c1", frame("3")) {
		t.Fatal("third frame should overflow")
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("peer should be closed")
	}
	if !errors.Is(p.Reason(), ErrSlowConsumer) {
		t.Fatalf("reason = %v", p.Reason())
	}
	if h.Send("c1", frame("4")) {
		t.Fatal("closed peer accepted a frame")
	}
	if overflows.Load() != 1 {
		t.Fatalf("overflow callbacks = %d, want 1", overflows.Load())
	}
}

func TestRoomsAndRemove(t *testing.T) {
	h := New(4, nil, nil)
	h.Add("c1", "u1")
	h.Add("c2", "u2")
	h.Join("c1", "d1")
	h.Join("c2", "d1")
	h.Join("c1", "d2")

	if got := h.Members("d1"); !slices.Equal(got, []string{"c1", "c2"}) {
		t.Fatalf("members(d1) = %v", got)
	}
	if h.Join("ghost", "d1") {
		t.Fatal("unknown connection joined")
	}

	left := h.Remove("c1")
	if !slices.Equal(left, []string{"d1", "d2"}) {
		t.Fatalf("left = %v", left)
	}
	if got := h.Members("d1"); !slices.Equal(got, []string{"c2"}) {
		t.Fatalf("members(d1) after remove = %v", got)
	}
	if got := h.Members("d2"); len(got) != 0 {
		t.Fatalf("members(d2) after remove = %v", got)
	}
	if h.Remove("c1") != nil {
		t.Fatal("second remove should be a no-op")
	}
	if h.Len() != 1 {
		t.Fatalf("len = %d", h.Len())
	}
}

func TestBroadcastSkips(t *testing.T) {
	h := New(4, nil, nil)
	a := h.Add("c1", "u1")
	b := h.Add("c2", "u2")
	if n := h.Broadcast(frame("x"), "c1"); n != 1 {
		t.Fatalf("broadcast reached %d", n)
	}
	if len(a.Outbound()) != 0 || len(b.Outbound()) != 1 {
		t.Fatalf("queues: a=%d b=%d", len(a.Outbound()), len(b.Outbound()))
	}
}
