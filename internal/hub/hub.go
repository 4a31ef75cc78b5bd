// Package hub owns the set of live connections, their dialog group
// memberships and their outbound queues.
package hub

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/matheus3301/pairchat/internal/protocol"
	"go.uber.org/zap"
)

// ErrSlowConsumer is the close reason of a peer whose queue overflowed.
var ErrSlowConsumer = errors.New("outbound queue full")

// ErrClosed is the close reason of a peer removed from the hub.
var ErrClosed = errors.New("connection closed")

// Peer is one live connection's outbound side.
type Peer struct {
	ID     string
	UserID string

	mu     sync.Mutex
	queue  chan protocol.Frame
	done   chan struct{}
	closed bool
	reason error
}

// Outbound delivers frames in enqueue order.
func (p *Peer) Outbound() <-chan protocol.Frame { return p.queue }

// Done is closed when the peer must stop writing.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Reason returns why the peer was closed, nil while open.
func (p *Peer) Reason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// enqueue never blocks. A full queue closes the peer so that it never
// observes a gap in its event sequence.
func (p *Peer) enqueue(f protocol.Frame) (ok, overflow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, false
	}
	select {
	case p.queue <- f:
		return true, false
	default:
		p.closeLocked(ErrSlowConsumer)
		return false, true
	}
}

func (p *Peer) close(reason error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked(reason)
}

func (p *Peer) closeLocked(reason error) bool {
	if p.closed {
		return false
	}
	p.closed = true
	p.reason = reason
	close(p.done)
	return true
}

// Hub indexes peers by id and dialog group.
type Hub struct {
	mu         sync.RWMutex
	peers      map[string]*Peer
	rooms      map[string]map[string]struct{}
	memberOf   map[string]map[string]struct{}
	bufSize    int
	onOverflow func(*Peer)
	log        *zap.Logger
}

// New creates a hub whose peers buffer up to bufSize frames.
// onOverflow, if set, runs after a peer is closed as a slow consumer.
func New(bufSize int, onOverflow func(*Peer), log *zap.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		peers:      make(map[string]*Peer),
		rooms:      make(map[string]map[string]struct{}),
		memberOf:   make(map[string]map[string]struct{}),
		bufSize:    bufSize,
		onOverflow: onOverflow,
		log:        log,
	}
}

// Add registers a new peer.
func (h *Hub) Add(connID, userID string) *Peer {
	p := &Peer{
		ID:     connID,
		UserID: userID,
		queue:  make(chan protocol.Frame, h.bufSize),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.peers[connID] = p
	h.mu.Unlock()
	return p
}

// Remove drops the peer and all its memberships, closes it, and returns the
// dialogs it had joined. Removing an unknown peer returns nil.
func (h *Hub) Remove(connID string) []string {
	h.mu.Lock()
	p, ok := h.peers[connID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(h.peers, connID)
	left := slices.Sorted(maps.Keys(h.memberOf[connID]))
	for _, dialogID := range left {
		members := h.rooms[dialogID]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, dialogID)
		}
	}
	delete(h.memberOf, connID)
	h.mu.Unlock()

	p.close(ErrClosed)
	return left
}

// Peer looks up a live peer.
func (h *Hub) Peer(connID string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[connID]
	return p, ok
}

// Join adds the connection to a dialog group. Unknown connections are ignored.
func (h *Hub) Join(connID, dialogID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[connID]; !ok {
		return false
	}
	if h.rooms[dialogID] == nil {
		h.rooms[dialogID] = make(map[string]struct{})
	}
	h.rooms[dialogID][connID] = struct{}{}
	if h.memberOf[connID] == nil {
		h.memberOf[connID] = make(map[string]struct{})
	}
	h.memberOf[connID][dialogID] = struct{}{}
	return true
}

// Members returns the connections joined to a dialog, sorted.
func (h *Hub) Members(dialogID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.rooms[dialogID]))
}

// Rooms returns the dialogs a connection has joined, sorted.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.memberOf[connID]))
}

// Len returns the number of live peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// ConnIDs returns every live connection id, sorted.
func (h *Hub) ConnIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.peers))
}

// Send queues f for one connection. It reports whether the frame was queued.
func (h *Hub) Send(connID string, f protocol.Frame) bool {
	h.mu.RLock()
	p, ok := h.peers[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	queued, overflow := p.enqueue(f)
	if overflow {
		h.log.Warn("closing slow consumer",
			zap.String("conn_id", p.ID),
			zap.String("user_id", p.UserID),
			zap.String("event", f.Event),
		)
		if h.onOverflow != nil {
			h.onOverflow(p)
		}
	}
	return queued
}

// SendAll queues f for every listed connection and returns how many queued it.
func (h *Hub) SendAll(connIDs []string, f protocol.Frame) int {
	n := 0
	for _, id := range connIDs {
		if h.Send(id, f) {
			n++
		}
	}
	return n
}

// Broadcast queues f for every live connection except those in skip.
func (h *Hub) Broadcast(f protocol.Frame, skip ...string) int {
	ids := h.ConnIDs()
	ids = slices.DeleteFunc(ids, func(id string) bool { return slices.Contains(skip, id) })
	return h.SendAll(ids, f)
}
