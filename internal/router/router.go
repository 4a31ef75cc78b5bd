// Package router is the per-connection dispatcher: it admits authenticated
// connections, turns inbound commands into calls on the shared registries and
// fans the resulting events out to the affected connections.
//
// The router owns no chat state. Presence, dialogs, messages and typing sets
// live in their own packages; the router only orchestrates them and the hub.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/dialog"
	"github.com/matheus3301/pairchat/internal/hub"
	"github.com/matheus3301/pairchat/internal/messages"
	"github.com/matheus3301/pairchat/internal/metrics"
	"github.com/matheus3301/pairchat/internal/presence"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/typing"
	"go.uber.org/zap"
)

// ProfileStore is the external user profile collaborator. Lookups return
// nil, nil when the user does not exist.
type ProfileStore interface {
	GetUserByID(ctx context.Context, id string) (*chat.User, error)
	ListUsers(ctx context.Context) ([]chat.User, error)
	UpdateProfile(ctx context.Context, id string, patch chat.ProfilePatch) (*chat.User, error)
	SetOnlineStatus(ctx context.Context, id string, online bool) (*chat.User, error)
}

// Deps are the collaborators of a Router.
type Deps struct {
	Presence *presence.Registry
	Dialogs  *dialog.Directory
	Messages *messages.Log
	Typing   *typing.Tracker
	Hub      *hub.Hub
	Profiles ProfileStore
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// UpstreamTimeout bounds every profile store call.
	UpstreamTimeout time.Duration
}

// Router dispatches commands for all connections.
type Router struct {
	presence *presence.Registry
	dialogs  *dialog.Directory
	messages *messages.Log
	typing   *typing.Tracker
	hub      *hub.Hub
	profiles ProfileStore
	bus      *bus.Bus
	metrics  *metrics.Metrics
	log      *zap.Logger
	timeout  time.Duration

	mu    sync.Mutex
	conns map[string]*status.Machine

	syncMu   sync.Mutex
	userSync map[string]*sync.Mutex
}

// New creates a router.
func New(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.UpstreamTimeout <= 0 {
		d.UpstreamTimeout = 3 * time.Second
	}
	return &Router{
		presence: d.Presence,
		dialogs:  d.Dialogs,
		messages: d.Messages,
		typing:   d.Typing,
		hub:      d.Hub,
		profiles: d.Profiles,
		bus:      d.Bus,
		metrics:  d.Metrics,
		log:      d.Logger,
		timeout:  d.UpstreamTimeout,
		conns:    make(map[string]*status.Machine),
		userSync: make(map[string]*sync.Mutex),
	}
}

// Admit loads the profile of an authenticated user. It runs before the
// transport is upgraded, so a failure refuses the connection without any
// registration.
func (r *Router) Admit(ctx context.Context, userID string) (chat.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, err := r.profiles.GetUserByID(ctx, userID)
	if err != nil {
		return chat.User{}, fmt.Errorf("load profile %s: %v: %w", userID, err, chat.ErrUpstreamUnavailable)
	}
	if u == nil {
		return chat.User{}, fmt.Errorf("unknown user %s: %w", userID, chat.ErrUnauthenticated)
	}
	return *u, nil
}

// Connect registers an admitted connection, pushes the initial dialogs_list
// and users_list to it and announces the user to everyone else if this is
// the user's first live connection. The returned peer carries the outbound
// queue the transport must drain.
func (r *Router) Connect(ctx context.Context, connID string, profile chat.User) *hub.Peer {
	m := status.NewMachine(connID, r.bus)
	_ = m.Authenticate(profile.ID)

	r.mu.Lock()
	r.conns[connID] = m
	r.mu.Unlock()

	peer := r.hub.Add(connID, profile.ID)
	r.metrics.ConnOpened()

	_, cameOnline := r.presence.Register(connID, profile, func(tr presence.Transition) {
		r.announce(tr, connID)
	})
	if cameOnline {
		r.syncPresence(ctx, profile.ID)
	}

	r.pushDialogs(connID, profile.ID)
	r.pushUsers(ctx, connID)

	r.log.Debug("connection admitted",
		zap.String("conn_id", connID),
		zap.String("user_id", profile.ID),
		zap.Bool("came_online", cameOnline),
	)
	return peer
}

// Disconnect releases every binding of connID: dialog groups, presence and
// typing state. It is safe to call more than once.
func (r *Router) Disconnect(ctx context.Context, connID string) {
	r.mu.Lock()
	m, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()
	if !ok {
		return
	}
	m.Close()

	r.hub.Remove(connID)
	r.metrics.ConnClosed()

	u, wentOffline := r.presence.Unregister(connID, func(tr presence.Transition) {
		r.announce(tr, connID)
	})
	if !wentOffline {
		return
	}
	for _, e := range r.typing.StopAll(u.ID) {
		r.toPeerOf(e.DialogID, u.ID, stopTypingFrame(e.DialogID, u.ID))
	}
	r.syncPresence(ctx, u.ID)

	r.log.Debug("user went offline",
		zap.String("conn_id", connID),
		zap.String("user_id", u.ID),
	)
}

// State returns the lifecycle state of a connection, Closed if unknown.
func (r *Router) State(connID string) status.State {
	r.mu.Lock()
	m, ok := r.conns[connID]
	r.mu.Unlock()
	if !ok {
		return status.Closed
	}
	return m.Current()
}

// announce runs under the presence registry's lock, keeping transitions for
// one user in registration order.
func (r *Router) announce(tr presence.Transition, origin string) {
	kind := bus.UserOffline
	if tr.Online {
		kind = bus.UserOnline
	}
	r.bus.Emit(kind, tr.User)
	r.hub.Broadcast(userStatusFrame(tr.User), origin)

	r.metrics.SetOnline(tr.OnlineUsers)
}

// syncPresence writes the registry's current online flag for userID to the
// profile store. Writes for one user are serialized and always read the
// latest state, so the last write wins with the true value.
func (r *Router) syncPresence(ctx context.Context, userID string) {
	r.syncMu.Lock()
	mu, ok := r.userSync[userID]
	if !ok {
		mu = &sync.Mutex{}
		r.userSync[userID] = mu
	}
	r.syncMu.Unlock()

	mu.Lock()
	defer mu.Unlock()

	online := r.presence.Online(userID)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if _, err := r.profiles.SetOnlineStatus(ctx, userID, online); err != nil {
		r.log.Warn("set online status failed",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

// ExpireTyping broadcasts user_stop_typing for entries the tracker dropped
// after their TTL.
func (r *Router) ExpireTyping(entries []typing.Entry) {
	for _, e := range entries {
		r.toPeerOf(e.DialogID, e.UserID, stopTypingFrame(e.DialogID, e.UserID))
	}
}
