// Package messages holds the append-only, per-dialog ordered message log.
//
// Every mutating call accepts an optional callback that runs while the
// dialog's sequence is still held. Fan-out done inside the callback is
// therefore delivered in append order; callbacks must not block.
package messages

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
)

// Dialogs is the part of the dialog directory the log depends on.
type Dialogs interface {
	Get(id string) (chat.Dialog, bool)
	RecordMessage(id, messageID string, at time.Time)
	Bump(id string, at time.Time)
}

// Draft is the input of Append.
type Draft struct {
	DialogID    string
	SenderID    string
	Type        chat.MessageType
	Text        string
	Attachments []chat.Attachment
}

type thread struct {
	mu    sync.Mutex
	msgs  []*chat.Message
	index map[string]int
}

// Log stores each dialog's messages in append order.
type Log struct {
	mu      sync.RWMutex
	threads map[string]*thread
	dialogs Dialogs
	bus     *bus.Bus
	now     func() time.Time
}

// NewLog creates a log bound to the dialog directory.
func NewLog(dialogs Dialogs, b *bus.Bus) *Log {
	return &Log{
		threads: make(map[string]*thread),
		dialogs: dialogs,
		bus:     b,
		now:     time.Now,
	}
}

func (l *Log) thread(dialogID string, create bool) *thread {
	l.mu.RLock()
	th, ok := l.threads[dialogID]
	l.mu.RUnlock()
	if ok || !create {
		return th
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if th, ok = l.threads[dialogID]; !ok {
		th = &thread{index: make(map[string]int)}
		l.threads[dialogID] = th
	}
	return th
}

// Append adds a new message as the last element of the dialog's sequence and
// updates the dialog's last message. then, if non-nil, receives the stored
// message before any later append to the same dialog can proceed.
func (l *Log) Append(d Draft, then func(chat.Message)) (chat.Message, error) {
	dlg, ok := l.dialogs.Get(d.DialogID)
	if !ok {
		return chat.Message{}, fmt.Errorf("append to %s: %w", d.DialogID, chat.ErrDialogNotFound)
	}
	if !dlg.Has(d.SenderID) {
		return chat.Message{}, fmt.Errorf("append to %s by %s: %w", d.DialogID, d.SenderID, chat.ErrNotParticipant)
	}

	th := l.thread(d.DialogID, true)
	th.mu.Lock()
	defer th.mu.Unlock()

	now := l.now()
	m := &chat.Message{
		ID:          uuid.NewString(),
		DialogID:    d.DialogID,
		SenderID:    d.SenderID,
		Type:        d.Type,
		Text:        d.Text,
		Attachments: append([]chat.Attachment(nil), d.Attachments...),
		CreatedAt:   now,
		SeenBy:      []string{d.SenderID},
	}
	th.index[m.ID] = len(th.msgs)
	th.msgs = append(th.msgs, m)
	l.dialogs.RecordMessage(d.DialogID, m.ID, now)

	out := m.Clone()
	l.bus.Emit(bus.MessageAppended, out.Clone())
	if then != nil {
		then(out.Clone())
	}
	return out, nil
}

// List returns a copy of the dialog's messages in append order. Unknown
// dialogs yield an empty slice.
func (l *Log) List(dialogID string) []chat.Message {
	th := l.thread(dialogID, false)
	if th == nil {
		return []chat.Message{}
	}
	th.mu.Lock()
	defer th.mu.Unlock()

	out := make([]chat.Message, len(th.msgs))
	for i, m := range th.msgs {
		out[i] = m.Clone()
	}
	return out
}

// ListThen is List for a dialog that exists, with then run while the
// dialog's sequence is held. Frames queued by then precede the fan-out of any
// later append.
func (l *Log) ListThen(dialogID string, then func([]chat.Message)) []chat.Message {
	th := l.thread(dialogID, true)
	th.mu.Lock()
	defer th.mu.Unlock()

	out := make([]chat.Message, len(th.msgs))
	for i, m := range th.msgs {
		out[i] = m.Clone()
	}
	if then != nil {
		then(out)
	}
	return out
}

// Get returns one message.
func (l *Log) Get(dialogID, messageID string) (chat.Message, bool) {
	th := l.thread(dialogID, false)
	if th == nil {
		return chat.Message{}, false
	}
	th.mu.Lock()
	defer th.mu.Unlock()

	i, ok := th.index[messageID]
	if !ok {
		return chat.Message{}, false
	}
	return th.msgs[i].Clone(), true
}

// MarkDeleted sets the tombstone flag. It reports whether the message exists;
// absent dialogs or messages are not an error. then runs only when found.
func (l *Log) MarkDeleted(messageID, dialogID string, then func()) bool {
	th := l.thread(dialogID, false)
	if th == nil {
		return false
	}
	th.mu.Lock()
	defer th.mu.Unlock()

	i, ok := th.index[messageID]
	if !ok {
		return false
	}
	if m := th.msgs[i]; !m.Deleted {
		m.Deleted = true
		l.bus.Emit(bus.MessageDeleted, bus.Tombstone{DialogID: dialogID, MessageID: messageID})
	}
	if then != nil {
		then()
	}
	return true
}

// MarkSeen adds userID to SeenBy of every message in the dialog and bumps the
// dialog's UpdatedAt. It returns how many messages changed. then runs when
// the dialog exists, even if nothing changed.
func (l *Log) MarkSeen(dialogID, userID string, then func()) (int, error) {
	if _, ok := l.dialogs.Get(dialogID); !ok {
		return 0, fmt.Errorf("mark seen in %s: %w", dialogID, chat.ErrDialogNotFound)
	}

	th := l.thread(dialogID, true)
	th.mu.Lock()
	defer th.mu.Unlock()

	changed := 0
	for _, m := range th.msgs {
		if !m.SeenByUser(userID) {
			m.SeenBy = append(m.SeenBy, userID)
			changed++
		}
	}
	now := l.now()
	l.dialogs.Bump(dialogID, now)
	if changed > 0 {
		l.bus.Emit(bus.MessagesSeen, bus.SeenMark{DialogID: dialogID, UserID: userID, At: now})
	}
	if then != nil {
		then()
	}
	return changed, nil
}

// Restore appends persisted messages, which must already be in append order
// per dialog. Messages whose id is already present are skipped.
func (l *Log) Restore(msgs []chat.Message) int {
	n := 0
	for _, m := range msgs {
		th := l.thread(m.DialogID, true)
		th.mu.Lock()
		if _, dup := th.index[m.ID]; !dup {
			c := m.Clone()
			th.index[c.ID] = len(th.msgs)
			th.msgs = append(th.msgs, &c)
			n++
		}
		th.mu.Unlock()
	}
	return n
}

// Count returns the total number of stored messages.
func (l *Log) Count() int {
	l.mu.RLock()
	threads := make([]*thread, 0, len(l.threads))
	for _, th := range l.threads {
		threads = append(threads, th)
	}
	l.mu.RUnlock()

	n := 0
	for _, th := range threads {
		th.mu.Lock()
		n += len(th.msgs)
		th.mu.Unlock()
	}
	return n
}
