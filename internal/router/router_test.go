package router

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/dialog"
	"github.com/matheus3301/pairchat/internal/hub"
	"github.com/matheus3301/pairchat/internal/messages"
	"github.com/matheus3301/pairchat/internal/presence"
	"github.com/matheus3301/pairchat/internal/protocol"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/typing"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*chat.User
	online  map[string][]bool
	failing bool
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{users: make(map[string]*chat.User), online: make(map[string][]bool)}
	for _, id := range ids {
		s.users[id] = &chat.User{ID: id, Username: id}
	}
	return s
}

func (s *fakeStore) GetUserByID(_ context.Context, id string) (*chat.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store down")
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *fakeStore) ListUsers(context.Context) ([]chat.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store down")
	}
	out := make([]chat.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, nil
}

func (s *fakeStore) UpdateProfile(_ context.Context, id string, patch chat.ProfilePatch) (*chat.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	patch.Apply(u)
	c := *u
	return &c, nil
}

func (s *fakeStore) SetOnlineStatus(_ context.Context, id string, online bool) (*chat.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[id] = append(s.online[id], online)
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.Online = online
	c := *u
	return &c, nil
}

func (s *fakeStore) onlineWrites(id string) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.online[id])
}

type harness struct {
	t      *testing.T
	router *Router
	store  *fakeStore
	log    *messages.Log
	typing *typing.Tracker
	peers  map[string]*hub.Peer
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	dir := dialog.NewDirectory(nil)
	log := messages.NewLog(dir, nil)
	tr := typing.NewTracker(time.Minute)
	store := newFakeStore(users...)
	r := New(Deps{
		Presence: presence.NewRegistry(),
		Dialogs:  dir,
		Messages: log,
		Typing:   tr,
		Hub:      hub.New(64, nil, nil),
		Profiles: store,
	})
	return &harness{t: t, router: r, store: store, log: log, typing: tr, peers: make(map[string]*hub.Peer)}
}

func (h *harness) connect(connID, userID string) {
	h.t.Helper()
	u, err := h.router.Admit(context.Background(), userID)
	if err != nil {
		h.t.Fatalf("Admit(%s): %v", userID, err)
	}
	h.peers[connID] = h.router.Connect(context.Background(), connID, u)
}

func (h *harness) send(connID, event string, data any) {
	h.t.Helper()
	frame, err := protocol.NewEnvelope(event, data)
	if err != nil {
		h.t.Fatal(err)
	}
	h.router.Handle(context.Background(), connID, frame)
}

// drain returns every frame queued for connID so far.
func (h *harness) drain(connID string) []protocol.Envelope {
	h.t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case f := <-h.peers[connID].Outbound():
			var env protocol.Envelope
			if err := json.Unmarshal(f.Bytes, &env); err != nil {
				h.t.Fatal(err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func only(envs []protocol.Envelope, event string) []protocol.Envelope {
	return slices.DeleteFunc(slices.Clone(envs), func(e protocol.Envelope) bool { return e.Event != event })
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func (h *harness) openDialog(connID, other string) string {
	h.t.Helper()
	h.send(connID, protocol.EventOpenDialog, protocol.OpenDialog{UserID: other})
	lists := only(h.drain(connID), protocol.EventMessagesList)
	if len(lists) != 1 {
		h.t.Fatalf("messages_list frames = %d", len(lists))
	}
	return decode[protocol.MessagesList](h.t, lists[0]).DialogID
}

func TestConnectPushesInitialLists(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")

	envs := h.drain("a1")
	if len(envs) != 2 || envs[0].Event != protocol.EventDialogsList || envs[1].Event != protocol.EventUsersList {
		t.Fatalf("initial frames = %+v", envs)
	}
	users := decode[protocol.UsersList](t, envs[1]).Users
	if len(users) != 2 || users[0].ID != "alice" || !users[0].Online || users[1].Online {
		t.Fatalf("users = %+v", users)
	}
	if h.router.State("a1") != status.Authenticated {
		t.Fatalf("state = %s", h.router.State("a1"))
	}
}

func TestAdmitRejectsUnknownUser(t *testing.T) {
	h := newHarness(t, "alice")
	if _, err := h.router.Admit(context.Background(), "mallory"); !errors.Is(err, chat.ErrUnauthenticated) {
		t.Fatalf("err = %v", err)
	}
	h.store.failing = true
	if _, err := h.router.Admit(context.Background(), "alice"); !errors.Is(err, chat.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendAndSeenScenario(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	h.drain("a1")
	h.drain("b1")

	dialogID := h.openDialog("a1", "bob")
	if h.router.State("a1") != status.Joined {
		t.Fatalf("state = %s", h.router.State("a1"))
	}
	h.drain("b1")

	h.send("a1", protocol.EventSendMessage, protocol.SendMessage{DialogID: dialogID, Type: "text", Text: "hi"})

	var ids []string
	for _, conn := range []string{"a1", "b1"} {
		got := only(h.drain(conn), protocol.EventNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s new_message frames = %d", conn, len(got))
		}
		msg := decode[protocol.NewMessage](t, got[0]).Message
		if msg.DialogID != dialogID || msg.Text != "hi" || !slices.Equal(msg.SeenBy, []string{"alice"}) {
			t.Fatalf("%s message = %+v", conn, msg)
		}
		ids = append(ids, msg.ID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("ids differ: %v", ids)
	}

	h.send("b1", protocol.EventMessageSeen, protocol.MessageSeen{DialogID: dialogID})
	seen := only(h.drain("a1"), protocol.EventMessagesSeen)
	if len(seen) != 1 {
		t.Fatalf("messages_seen frames = %d", len(seen))
	}
	if p := decode[protocol.MessagesSeenPayload](t, seen[0]); p.DialogID != dialogID || p.UserID != "bob" {
		t.Fatalf("seen payload = %+v", p)
	}
	list := h.log.List(dialogID)
	if len(list) != 1 || !list[0].SeenByUser("alice") || !list[0].SeenByUser("bob") {
		t.Fatalf("log = %+v", list)
	}
}

func TestSendReachesEveryDevice(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("a2", "alice")
	h.connect("b1", "bob")
	dialogID := h.openDialog("a1", "bob")
	for _, c := range []string{"a1", "a2", "b1"} {
		h.drain(c)
	}

	h.send("a1", protocol.EventSendMessage, protocol.SendMessage{DialogID: dialogID, Type: "text", Text: "sync", CorrelationID: "tmp-1"})

	for _, c := range []string{"a1", "a2", "b1"} {
		got := only(h.drain(c), protocol.EventNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s got %d new_message", c, len(got))
		}
		p := decode[protocol.NewMessage](t, got[0])
		wantCorr := "tmp-1"
		if c == "b1" {
			wantCorr = ""
		}
		if p.CorrelationID != wantCorr {
			t.Fatalf("%s correlation = %q, want %q", c, p.CorrelationID, wantCorr)
		}
	}
}

func TestPresenceAcrossDevices(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.drain("a1")

	h.connect("b1", "bob")
	h.connect("b2", "bob")
	updates := only(h.drain("a1"), protocol.EventUserStatusUpdated)
	if len(updates) != 1 || !decode[protocol.UserStatusUpdated](t, updates[0]).User.Online {
		t.Fatalf("online updates = %+v", updates)
	}

	h.router.Disconnect(context.Background(), "b1")
	if got := only(h.drain("a1"), protocol.EventUserStatusUpdated); len(got) != 0 {
		t.Fatalf("unexpected update after first disconnect: %+v", got)
	}

	h.router.Disconnect(context.Background(), "b2")
	h.router.Disconnect(context.Background(), "b2")
	updates = only(h.drain("a1"), protocol.EventUserStatusUpdated)
	if len(updates) != 1 {
		t.Fatalf("offline updates = %d", len(updates))
	}
	u := decode[protocol.UserStatusUpdated](t, updates[0]).User
	if u.Online || u.LastSeen == 0 {
		t.Fatalf("offline snapshot = %+v", u)
	}
	if got := h.store.onlineWrites("bob"); !slices.Equal(got, []bool{true, false}) {
		t.Fatalf("store writes = %v", got)
	}
}

func TestCommandErrorsReplyToRequester(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	h.drain("a1")
	h.drain("b1")

	tests := []struct {
		name  string
		event string
		data  any
		code  string
		corr  string
	}{
		{"self dialog", protocol.EventOpenDialog, protocol.OpenDialog{UserID: "alice"}, "invalid_self_dialog", ""},
		{"unknown user", protocol.EventOpenDialog, protocol.OpenDialog{UserID: "ghost"}, "user_not_found", ""},
		{"unknown dialog", protocol.EventSendMessage, protocol.SendMessage{DialogID: "nope", Type: "text", Text: "x", CorrelationID: "c1"}, "dialog_not_found", "c1"},
		{"invalid payload", protocol.EventSendMessage, protocol.SendMessage{DialogID: "nope", Type: "text"}, "bad_request", ""},
		{"typing unknown dialog", protocol.EventTypingStart, protocol.TypingStart{DialogID: "nope"}, "dialog_not_found", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.send("a1", tt.event, tt.data)
			errs := only(h.drain("a1"), protocol.EventError)
			if len(errs) != 1 {
				t.Fatalf("error frames = %d", len(errs))
			}
			p := decode[protocol.ErrorPayload](t, errs[0])
			if p.Code != tt.code || p.Event != tt.event || p.CorrelationID != tt.corr {
				t.Fatalf("error = %+v", p)
			}
			if got := h.drain("b1"); len(got) != 0 {
				t.Fatalf("bystander received %+v", got)
			}
		})
	}
}

func TestUnadmittedFramesDropped(t *testing.T) {
	h := newHarness(t, "alice")
	h.router.Handle(context.Background(), "ghost", []byte(`{"event":"get_users"}`))
	h.connect("a1", "alice")
	h.router.Disconnect(context.Background(), "a1")
	h.router.Handle(context.Background(), "a1", []byte(`{"event":"get_users"}`))
	if h.router.State("a1") != status.Closed {
		t.Fatalf("state = %s", h.router.State("a1"))
	}
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	dialogID := h.openDialog("a1", "bob")
	h.send("a1", protocol.EventSendMessage, protocol.SendMessage{DialogID: dialogID, Type: "text", Text: "oops"})
	msgID := h.log.List(dialogID)[0].ID
	h.drain("a1")
	h.drain("b1")

	h.send("b1", protocol.EventDeleteMessage, protocol.DeleteMessage{MessageID: msgID, DialogID: dialogID})
	if errs := only(h.drain("b1"), protocol.EventError); len(errs) != 1 || decode[protocol.ErrorPayload](t, errs[0]).Code != "forbidden" {
		t.Fatalf("non-sender delete: %+v", errs)
	}

	h.send("a1", protocol.EventDeleteMessage, protocol.DeleteMessage{MessageID: msgID, DialogID: dialogID})
	h.send("a1", protocol.EventDeleteMessage, protocol.DeleteMessage{MessageID: msgID, DialogID: dialogID})
	h.send("a1", protocol.EventDeleteMessage, protocol.DeleteMessage{MessageID: "missing", DialogID: dialogID})

	if errs := only(h.drain("a1"), protocol.EventError); len(errs) != 0 {
		t.Fatalf("delete errors: %+v", errs)
	}
	if got := only(h.drain("b1"), protocol.EventMessageDeleted); len(got) != 2 {
		t.Fatalf("bob tombstone frames = %d", len(got))
	}
	if !h.log.List(dialogID)[0].Deleted {
		t.Fatal("message not tombstoned")
	}
}

func TestTypingGoesToPeerOnly(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	dialogID := h.openDialog("a1", "bob")
	h.drain("a1")
	h.drain("b1")

	h.send("a1", protocol.EventTypingStart, protocol.TypingStart{DialogID: dialogID})
	if got := h.drain("a1"); len(got) != 0 {
		t.Fatalf("typist received echo: %+v", got)
	}
	if got := only(h.drain("b1"), protocol.EventUserTyping); len(got) != 1 {
		t.Fatalf("peer typing frames = %d", len(got))
	}

	h.send("a1", protocol.EventSendMessage, protocol.SendMessage{DialogID: dialogID, Type: "text", Text: "done"})
	if got := only(h.drain("b1"), protocol.EventUserStopTyping); len(got) != 1 {
		t.Fatalf("stop after send = %d", len(got))
	}
	if got := h.typing.List(dialogID); len(got) != 0 {
		t.Fatalf("typing set = %v", got)
	}

	h.send("a1", protocol.EventTypingStart, protocol.TypingStart{DialogID: dialogID})
	h.drain("b1")
	h.router.Disconnect(context.Background(), "a1")
	if got := only(h.drain("b1"), protocol.EventUserStopTyping); len(got) != 1 {
		t.Fatalf("stop after disconnect = %d", len(got))
	}
}

func TestExpireTyping(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	dialogID := h.openDialog("a1", "bob")
	h.drain("b1")

	h.router.ExpireTyping([]typing.Entry{{DialogID: dialogID, UserID: "alice"}})
	got := only(h.drain("b1"), protocol.EventUserStopTyping)
	if len(got) != 1 || decode[protocol.UserTyping](t, got[0]).UserID != "alice" {
		t.Fatalf("expiry frames = %+v", got)
	}
}

func TestUpdateProfileBroadcasts(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	h.drain("a1")
	h.drain("b1")

	bio := "hello"
	h.send("a1", protocol.EventUpdateProfile, protocol.UpdateProfile{Bio: &bio})
	for _, c := range []string{"a1", "b1"} {
		got := only(h.drain(c), protocol.EventUserStatusUpdated)
		if len(got) != 1 {
			t.Fatalf("%s updates = %d", c, len(got))
		}
		u := decode[protocol.UserStatusUpdated](t, got[0]).User
		if u.Bio != "hello" || !u.Online {
			t.Fatalf("%s snapshot = %+v", c, u)
		}
	}
}

func TestOpenDialogAnnouncesNewDialog(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	h.drain("b1")

	dialogID := h.openDialog("a1", "bob")
	lists := only(h.drain("b1"), protocol.EventDialogsList)
	if len(lists) != 1 {
		t.Fatalf("bob dialogs_list frames = %d", len(lists))
	}
	ds := decode[protocol.DialogsList](t, lists[0]).Dialogs
	if len(ds) != 1 || ds[0].ID != dialogID {
		t.Fatalf("dialogs = %+v", ds)
	}

	if again := h.openDialog("b1", "alice"); again != dialogID {
		t.Fatalf("reopen gave %s, want %s", again, dialogID)
	}
}
