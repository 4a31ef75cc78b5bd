// Package status tracks the lifecycle state of one client connection.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/pairchat/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Unauthenticated State = "UNAUTHENTICATED"
	Authenticated   State = "AUTHENTICATED"
	Joined          State = "JOINED"
	Closed          State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Unauthenticated: {Authenticated, Closed},
	Authenticated:   {Joined, Closed},
	Joined:          {Closed},
}

// Machine tracks and enforces one connection's state transitions.
type Machine struct {
	mu      sync.RWMutex
	connID  string
	userID  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine for connID starting in Unauthenticated.
func NewMachine(connID string, b *bus.Bus) *Machine {
	return &Machine{
		connID:  connID,
		current: Unauthenticated,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// UserID returns the bound user, empty before authentication.
func (m *Machine) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Admitted reports whether commands from the connection may be processed.
func (m *Machine) Admitted() bool {
	s := m.Current()
	return s == Authenticated || s == Joined
}

// Authenticate binds userID and moves to Authenticated.
func (m *Machine) Authenticate(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.userID
	m.userID = userID
	if err := m.transition(Authenticated); err != nil {
		m.userID = prev
		return err
	}
	return nil
}

// Join records that the connection joined a dialog group. Joining further
// dialogs keeps the connection in Joined.
func (m *Machine) Join() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Joined {
		return nil
	}
	return m.transition(Joined)
}

// Close moves to Closed. It reports false if the machine was already closed.
func (m *Machine) Close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(Closed) == nil
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(to)
}

func (m *Machine) transition(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.ConnStateChanged, StatusChange{
		ConnID: m.connID,
		UserID: m.userID,
		From:   from,
		To:     to,
	})
	return nil
}

// StatusChange is the payload for connection state events.
type StatusChange struct {
	ConnID string
	UserID string
	From   State
	To     State
}
