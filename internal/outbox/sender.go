// Package outbox tracks optimistic client-side sends until the coordinator
// confirms or rejects them.
//
// Each send carries a fresh correlation id. The entry stays provisional
// until a new_message echoing that id arrives (sent), an error reply with
// that id arrives (failed) or the timeout elapses (failed).
package outbox

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/protocol"
	"go.uber.org/zap"
)

// ErrTimeout marks entries that were never confirmed.
var ErrTimeout = errors.New("no confirmation from server")

// TextSender is the interface for sending text messages to the coordinator.
type TextSender interface {
	SendText(ctx context.Context, dialogID, text, correlationID string) error
}

// Status of an outbox entry.
type Status string

const (
	Sending Status = "sending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// Entry is one provisional message.
type Entry struct {
	CorrelationID string
	DialogID      string
	Text          string
	Status        Status
	Err           string
	QueuedAt      time.Time

	// Message is the confirmed message once Status is Sent.
	Message *protocol.MessageDTO
}

// Sender sends messages and reconciles them with server confirmations.
type Sender struct {
	sender  TextSender
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*Entry
	failed  map[string]*Entry

	cancel context.CancelFunc
}

// NewSender creates a new outbox sender. Updates are published on b under
// the "outbox." namespace.
func NewSender(sender TextSender, b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		sender:  sender,
		bus:     b,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		pending: make(map[string]*Entry),
		failed:  make(map[string]*Entry),
	}
}

// Send queues text for dialogID and hands it to the transport. The returned
// entry is provisional; a transport error fails it immediately.
func (s *Sender) Send(ctx context.Context, dialogID, text string) (Entry, error) {
	e := &Entry{
		CorrelationID: uuid.NewString(),
		DialogID:      dialogID,
		Text:          text,
		Status:        Sending,
		QueuedAt:      s.now(),
	}
	s.mu.Lock()
	s.pending[e.CorrelationID] = e
	queued := *e
	s.mu.Unlock()
	s.bus.Emit(bus.OutboxQueued, queued)

	if err := s.sender.SendText(ctx, dialogID, text, e.CorrelationID); err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("correlation_id", e.CorrelationID))
		failed, _ := s.fail(e.CorrelationID, err.Error())
		return failed, err
	}
	return queued, nil
}

// Ack reconciles a new_message frame. It reports false for messages that
// do not belong to a pending entry, including everything sent by others.
func (s *Sender) Ack(nm protocol.NewMessage) (Entry, bool) {
	if nm.CorrelationID == "" {
		return Entry{}, false
	}
	s.mu.Lock()
	e, ok := s.pending[nm.CorrelationID]
	if !ok {
		s.mu.Unlock()
		return Entry{}, false
	}
	delete(s.pending, nm.CorrelationID)
	msg := nm.Message
	e.Status = Sent
	e.Message = &msg
	out := *e
	s.mu.Unlock()

	s.logger.Debug("message confirmed", zap.String("correlation_id", out.CorrelationID), zap.String("message_id", msg.ID))
	s.bus.Emit(bus.OutboxSent, out)
	return out, true
}

// Reject fails the entry an error reply refers to.
func (s *Sender) Reject(p protocol.ErrorPayload) (Entry, bool) {
	if p.CorrelationID == "" {
		return Entry{}, false
	}
	return s.fail(p.CorrelationID, p.Message)
}

func (s *Sender) fail(correlationID, reason string) (Entry, bool) {
	s.mu.Lock()
	e, ok := s.pending[correlationID]
	if !ok {
		s.mu.Unlock()
		return Entry{}, false
	}
	delete(s.pending, correlationID)
	e.Status = Failed
	e.Err = reason
	s.failed[correlationID] = e
	out := *e
	s.mu.Unlock()

	s.bus.Emit(bus.OutboxFailed, out)
	return out, true
}

// Expire fails every entry queued longer than the timeout before now.
func (s *Sender) Expire(now time.Time) []Entry {
	s.mu.Lock()
	var stale []string
	for id, e := range s.pending {
		if now.Sub(e.QueuedAt) >= s.timeout {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	slices.Sort(stale)
	var out []Entry
	for _, id := range stale {
		if e, ok := s.fail(id, ErrTimeout.Error()); ok {
			out = append(out, e)
		}
	}
	return out
}

// Unconfirmed returns the pending and failed entries of a dialog, oldest
// first, so the UI can render them after the confirmed history.
func (s *Sender) Unconfirmed(dialogID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, m := range []map[string]*Entry{s.pending, s.failed} {
		for _, e := range m {
			if e.DialogID == dialogID {
				out = append(out, *e)
			}
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.QueuedAt.Compare(b.QueuedAt) })
	return out
}

// Dismiss forgets a failed entry.
func (s *Sender) Dismiss(correlationID string) {
	s.mu.Lock()
	delete(s.failed, correlationID)
	s.mu.Unlock()
}

// Start begins sweeping for timed out entries.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sweep loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, e := range s.Expire(s.now()) {
				s.logger.Warn("message timed out", zap.String("correlation_id", e.CorrelationID))
			}
		case <-ctx.Done():
			return
		}
	}
}
