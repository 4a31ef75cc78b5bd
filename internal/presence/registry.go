// Package presence tracks which connections belong to which user and derives
// online/offline transitions from the live connection count.
package presence

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
)

// Transition reports a presence change. Online is the new state and
// OnlineUsers the number of online users right after it.
type Transition struct {
	User        chat.User
	Online      bool
	OnlineUsers int
}

// Notify is called with a transition while the registry still holds its lock,
// so notifications for one user are delivered in registration order.
// It must not block or call back into the registry.
type Notify func(Transition)

// Registry maps connections to users and caches user snapshots.
type Registry struct {
	mu        sync.Mutex
	users     map[string]*chat.User
	connUser  map[string]string
	userConns map[string]map[string]struct{}
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:     make(map[string]*chat.User),
		connUser:  make(map[string]string),
		userConns: make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

// Register binds connID to the user described by profile, refreshing the
// cached snapshot from it. If this is the user's first live connection the
// user goes online and notify (if non-nil) receives the transition.
// Registering an already bound connection is a no-op.
func (r *Registry) Register(connID string, profile chat.User, notify Notify) (chat.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uid, ok := r.connUser[connID]; ok {
		return *r.users[uid], false
	}

	u, ok := r.users[profile.ID]
	if !ok {
		u = &chat.User{}
		r.users[profile.ID] = u
	}
	lastSeen := u.LastSeen
	*u = profile
	if lastSeen.After(u.LastSeen) {
		u.LastSeen = lastSeen
	}

	conns := r.userConns[profile.ID]
	if conns == nil {
		conns = make(map[string]struct{})
		r.userConns[profile.ID] = conns
	}
	conns[connID] = struct{}{}
	r.connUser[connID] = profile.ID

	cameOnline := len(conns) == 1
	u.Online = true
	if cameOnline && notify != nil {
		notify(Transition{User: *u, Online: true, OnlineUsers: len(r.userConns)})
	}
	return *u, cameOnline
}

// Unregister removes connID. If it was the user's last live connection the
// user goes offline with LastSeen stamped now and notify receives the
// transition. Unknown connection ids are ignored.
func (r *Registry) Unregister(connID string, notify Notify) (chat.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.connUser[connID]
	if !ok {
		return chat.User{}, false
	}
	delete(r.connUser, connID)

	conns := r.userConns[uid]
	delete(conns, connID)
	u := r.users[uid]
	if len(conns) > 0 {
		return *u, false
	}
	delete(r.userConns, uid)

	u.Online = false
	u.LastSeen = r.now()
	if notify != nil {
		notify(Transition{User: *u, Online: false, OnlineUsers: len(r.userConns)})
	}
	return *u, true
}

// UserByConnection returns the user bound to connID.
func (r *Registry) UserByConnection(connID string) (chat.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.connUser[connID]
	if !ok {
		return chat.User{}, false
	}
	return *r.users[uid], true
}

// ConnectionsForUser returns the live connection ids of userID, sorted.
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.userConns[userID]))
}

// Snapshot returns the cached copy of userID.
func (r *Registry) Snapshot(userID string) (chat.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return chat.User{}, false
	}
	return *u, true
}

// Snapshots returns every cached user.
func (r *Registry) Snapshots() []chat.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]chat.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out
}

// Refresh merges a fresh profile from the external store into the cached
// copy, preserving live presence, and returns the merged snapshot.
func (r *Registry) Refresh(profile chat.User) chat.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[profile.ID]
	if !ok {
		u = &profile
		r.users[profile.ID] = u
	} else {
		online, lastSeen := u.Online, u.LastSeen
		*u = profile
		u.LastSeen = lastSeen
		u.Online = online
	}
	u.Online = len(r.userConns[profile.ID]) > 0
	return *u
}

// Patch applies patch to the cached copy of userID.
func (r *Registry) Patch(userID string, patch chat.ProfilePatch) (chat.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return chat.User{}, false
	}
	patch.Apply(u)
	return *u, true
}

// Online reports whether userID has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userConns[userID]) > 0
}

// Counts returns the number of live connections and online users.
func (r *Registry) Counts() (connections, online int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connUser), len(r.userConns)
}
