package typing

import (
	"context"
	"testing"
	"time"
)

func TestStartStopList(t *testing.T) {
	tr := NewTracker(0)

	if !tr.Start("d1", "alice") {
		t.Error("first Start should report a new entry")
	}
	if tr.Start("d1", "alice") {
		t.Error("repeated Start should not report a new entry")
	}
	tr.Start("d1", "bob")

	if got := tr.List("d1"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("List(d1) = %v, want [alice bob]", got)
	}
	if !tr.Stop("d1", "alice") {
		t.Error("Stop should report alice was typing")
	}
	if tr.Stop("d1", "alice") {
		t.Error("second Stop should be a no-op")
	}
	if got := tr.List("d1"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("List(d1) = %v, want [bob]", got)
	}
}

func TestPointerFollowsLatestDialog(t *testing.T) {
	tr := NewTracker(0)
	tr.Start("d1", "alice")
	tr.Start("d2", "alice")

	if d, _ := tr.Pointer("alice"); d != "d2" {
		t.Errorf("Pointer = %q, want d2", d)
	}
	// Stopping the non-pointed dialog keeps the pointer.
	tr.Stop("d1", "alice")
	if d, ok := tr.Pointer("alice"); !ok || d != "d2" {
		t.Errorf("Pointer = %q, %v, want d2", d, ok)
	}
	tr.Stop("d2", "alice")
	if _, ok := tr.Pointer("alice"); ok {
		t.Error("Pointer should be cleared after stopping its dialog")
	}
}

func TestExpire(t *testing.T) {
	tr := NewTracker(5 * time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.Start("d1", "alice")
	tr.now = func() time.Time { return base.Add(3 * time.Second) }
	tr.Start("d1", "bob")

	expired := tr.Expire(base.Add(6 * time.Second))
	if len(expired) != 1 || expired[0] != (Entry{DialogID: "d1", UserID: "alice"}) {
		t.Errorf("expired = %v, want alice in d1", expired)
	}
	if got := tr.List("d1"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("List(d1) = %v, want [bob]", got)
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	tr := NewTracker(0)
	tr.Start("d1", "alice")
	if expired := tr.Expire(time.Now().Add(24 * time.Hour)); len(expired) != 0 {
		t.Errorf("expired = %v, want none", expired)
	}
}

func TestStopAll(t *testing.T) {
	tr := NewTracker(0)
	tr.Start("d2", "alice")
	tr.Start("d1", "alice")
	tr.Start("d1", "bob")

	got := tr.StopAll("alice")
	if len(got) != 2 || got[0].DialogID != "d1" || got[1].DialogID != "d2" {
		t.Errorf("StopAll = %v, want d1 and d2", got)
	}
	if l := tr.List("d2"); len(l) != 0 {
		t.Errorf("List(d2) = %v, want empty", l)
	}
	if l := tr.List("d1"); len(l) != 1 {
		t.Errorf("List(d1) = %v, want [bob]", l)
	}
}

func TestRunSweeps(t *testing.T) {
	tr := NewTracker(time.Millisecond)
	tr.Start("d1", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []Entry, 1)
	go tr.Run(ctx, 5*time.Millisecond, func(es []Entry) {
		select {
		case got <- es:
		default:
		}
	})

	select {
	case es := <-got:
		if len(es) != 1 || es[0].UserID != "alice" {
			t.Errorf("expired = %v", es)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sweep")
	}
}
