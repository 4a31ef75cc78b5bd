// Package typing tracks who is composing in which dialog. State is ephemeral.
package typing

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry identifies one user typing in one dialog.
type Entry struct {
	DialogID string
	UserID   string
}

// Tracker keeps per-dialog typing sets. Entries expire after ttl unless
// refreshed by another Start, covering clients that vanish without a stop.
type Tracker struct {
	mu       sync.Mutex
	dialogs  map[string]map[string]time.Time // dialog -> user -> deadline
	pointers map[string]string               // user -> dialog last started in
	ttl      time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker. A non-positive ttl disables expiry.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		dialogs:  make(map[string]map[string]time.Time),
		pointers: make(map[string]string),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start marks userID as typing in dialogID and points the user at it.
// It reports whether the user was not already typing there.
func (t *Tracker) Start(dialogID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.dialogs[dialogID]
	if set == nil {
		set = make(map[string]time.Time)
		t.dialogs[dialogID] = set
	}
	_, already := set[userID]
	var deadline time.Time
	if t.ttl > 0 {
		deadline = t.now().Add(t.ttl)
	}
	set[userID] = deadline
	t.pointers[userID] = dialogID
	return !already
}

// Stop removes userID from dialogID. It reports whether the user was typing.
func (t *Tracker) Stop(dialogID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(dialogID, userID)
}

func (t *Tracker) remove(dialogID, userID string) bool {
	set, ok := t.dialogs[dialogID]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.dialogs, dialogID)
	}
	if t.pointers[userID] == dialogID {
		delete(t.pointers, userID)
	}
	return true
}

// List returns the users typing in dialogID, sorted.
func (t *Tracker) List(dialogID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.dialogs[dialogID]))
}

// Pointer returns the dialog userID last started typing in.
func (t *Tracker) Pointer(userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.pointers[userID]
	return d, ok
}

// StopAll removes userID from every dialog and returns the removed entries.
func (t *Tracker) StopAll(userID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for dialogID, set := range t.dialogs {
		if _, ok := set[userID]; ok {
			out = append(out, Entry{DialogID: dialogID, UserID: userID})
		}
	}
	for _, e := range out {
		t.remove(e.DialogID, e.UserID)
	}
	sortEntries(out)
	return out
}

// Expire removes entries whose deadline is before now and returns them.
func (t *Tracker) Expire(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for dialogID, set := range t.dialogs {
		for userID, deadline := range set {
			if !deadline.IsZero() && deadline.Before(now) {
				out = append(out, Entry{DialogID: dialogID, UserID: userID})
			}
		}
	}
	for _, e := range out {
		t.remove(e.DialogID, e.UserID)
	}
	sortEntries(out)
	return out
}

// Run sweeps expired entries every interval until ctx is done, passing each
// batch to onExpire.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onExpire func([]Entry)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := t.Expire(t.now()); len(expired) > 0 && onExpire != nil {
				onExpire(expired)
			}
		case <-ctx.Done():
			return
		}
	}
}

func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int {
		return cmp.Or(strings.Compare(a.DialogID, b.DialogID), strings.Compare(a.UserID, b.UserID))
	})
}
