// Package dialog owns the one-dialog-per-pair directory.
package dialog

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
)

// Directory finds or creates the single dialog between two users.
type Directory struct {
	mu     sync.RWMutex
	byID   map[string]*chat.Dialog
	byPair map[string]string   // pair key -> dialog id
	byUser map[string][]string // user id -> dialog ids
	bus    *bus.Bus
	now    func() time.Time
}

// NewDirectory creates an empty directory. Created dialogs are published on b
// as bus.DialogCreated before GetOrCreate returns.
func NewDirectory(b *bus.Bus) *Directory {
	return &Directory{
		byID:   make(map[string]*chat.Dialog),
		byPair: make(map[string]string),
		byUser: make(map[string][]string),
		bus:    b,
		now:    time.Now,
	}
}

// pairKey is order-insensitive.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// GetOrCreate returns the dialog between userA and userB, creating it on first
// use. created reports whether this call created it.
func (d *Directory) GetOrCreate(userA, userB string) (dlg chat.Dialog, created bool, err error) {
	if userA == userB {
		return chat.Dialog{}, false, fmt.Errorf("dialog %s/%s: %w", userA, userB, chat.ErrInvalidSelfDialog)
	}
	if userA == "" || userB == "" {
		return chat.Dialog{}, false, fmt.Errorf("dialog participants must be set: %w", chat.ErrBadRequest)
	}
	key := pairKey(userA, userB)

	d.mu.RLock()
	if id, ok := d.byPair[key]; ok {
		dlg = *d.byID[id]
		d.mu.RUnlock()
		return dlg, false, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	// Re-check: the other participant may have won the race.
	if id, ok := d.byPair[key]; ok {
		return *d.byID[id], false, nil
	}

	now := d.now()
	nd := &chat.Dialog{
		ID:           uuid.NewString(),
		Participants: [2]string{userA, userB},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.insert(nd)
	d.bus.Emit(bus.DialogCreated, *nd)
	return *nd, true, nil
}

func (d *Directory) insert(nd *chat.Dialog) {
	d.byID[nd.ID] = nd
	d.byPair[pairKey(nd.Participants[0], nd.Participants[1])] = nd.ID
	for _, u := range nd.Participants {
		d.byUser[u] = append(d.byUser[u], nd.ID)
	}
}

// Get returns the dialog with id.
func (d *Directory) Get(id string) (chat.Dialog, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dlg, ok := d.byID[id]
	if !ok {
		return chat.Dialog{}, false
	}
	return *dlg, true
}

// ListForUser returns the user's dialogs, most recently active first.
func (d *Directory) ListForUser(userID string) []chat.Dialog {
	d.mu.RLock()
	out := make([]chat.Dialog, 0, len(d.byUser[userID]))
	for _, id := range d.byUser[userID] {
		out = append(out, *d.byID[id])
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b chat.Dialog) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// RecordMessage sets the dialog's last message and bumps UpdatedAt.
func (d *Directory) RecordMessage(id, messageID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dlg, ok := d.byID[id]; ok {
		dlg.LastMessageID = messageID
		dlg.UpdatedAt = at
	}
}

// Bump moves UpdatedAt forward to at.
func (d *Directory) Bump(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dlg, ok := d.byID[id]; ok && at.After(dlg.UpdatedAt) {
		dlg.UpdatedAt = at
	}
}

// Restore loads previously persisted dialogs. Dialogs whose pair already
// exists are skipped so the one-per-pair invariant survives bad input.
func (d *Directory) Restore(dialogs []chat.Dialog) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, dlg := range dialogs {
		if _, dup := d.byPair[pairKey(dlg.Participants[0], dlg.Participants[1])]; dup {
			continue
		}
		if _, dup := d.byID[dlg.ID]; dup {
			continue
		}
		c := dlg
		d.insert(&c)
		n++
	}
	return n
}

// Count returns the number of dialogs.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
