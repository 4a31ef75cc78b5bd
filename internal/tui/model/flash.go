package model

import (
	"sync"
	"time"
)

// Notice is one status-line message shown to the user.
type Notice struct {
	Text  string
	Error bool
}

const (
	infoTTL  = 3 * time.Second
	errorTTL = 6 * time.Second
)

// Flash holds the most recent notice until it expires. Server error replies
// and local send failures land here; a newer notice replaces an older one.
type Flash struct {
	mu      sync.RWMutex
	notice  Notice
	expires time.Time
	now     func() time.Time
}

// Info shows msg for a short while.
func (f *Flash) Info(msg string) { f.set(Notice{Text: msg}, infoTTL) }

// Error shows msg highlighted, for longer than an info notice.
func (f *Flash) Error(msg string) { f.set(Notice{Text: msg, Error: true}, errorTTL) }

// Sticky shows msg until another notice replaces it.
func (f *Flash) Sticky(msg string, isErr bool) {
	f.set(Notice{Text: msg, Error: isErr}, 100*365*24*time.Hour)
}

func (f *Flash) set(n Notice, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notice = n
	f.expires = f.clock().Add(ttl)
}

// Current returns the live notice, or the zero Notice once it has expired.
func (f *Flash) Current() Notice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.clock().Before(f.expires) {
		return Notice{}
	}
	return f.notice
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
