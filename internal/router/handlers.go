package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/messages"
	"github.com/matheus3301/pairchat/internal/protocol"
	"github.com/matheus3301/pairchat/internal/status"
	"go.uber.org/zap"
)

// Handle processes one inbound frame from connID. Frames from connections
// that are not admitted are dropped without a reply. Command failures are
// logged and answered with an error event to connID only.
func (r *Router) Handle(ctx context.Context, connID string, frame []byte) {
	r.mu.Lock()
	m, ok := r.conns[connID]
	r.mu.Unlock()
	if !ok || !m.Admitted() {
		r.log.Debug("dropping frame from unadmitted connection", zap.String("conn_id", connID))
		return
	}
	userID := m.UserID()

	event, cmd, err := protocol.Decode(frame)
	if err != nil {
		r.fail(connID, userID, event, "", err)
		return
	}
	r.metrics.Inbound(event)

	switch c := cmd.(type) {
	case protocol.OpenDialog:
		err = r.openDialog(ctx, connID, userID, m, c)
	case protocol.SendMessage:
		err = r.sendMessage(userID, c)
		if err != nil {
			r.fail(connID, userID, event, c.CorrelationID, err)
			return
		}
	case protocol.DeleteMessage:
		err = r.deleteMessage(userID, c)
	case protocol.TypingStart:
		err = r.typingStart(userID, c)
	case protocol.TypingStop:
		err = r.typingStop(userID, c)
	case protocol.MessageSeen:
		err = r.messageSeen(userID, c)
	case protocol.UpdateProfile:
		err = r.updateProfile(ctx, userID, c)
	case protocol.GetDialogs:
		r.pushDialogs(connID, userID)
	case protocol.GetUsers:
		r.pushUsers(ctx, connID)
	default:
		err = fmt.Errorf("unhandled event %q: %w", event, chat.ErrBadRequest)
	}
	if err != nil {
		r.fail(connID, userID, event, "", err)
	}
}

// Reject answers a frame the transport refused to dispatch.
func (r *Router) Reject(connID string, err error) {
	r.fail(connID, r.userOf(connID), "", "", err)
}

func (r *Router) userOf(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.conns[connID]; ok {
		return m.UserID()
	}
	return ""
}

func (r *Router) fail(connID, userID, event, correlationID string, err error) {
	code := chat.Code(err)
	r.metrics.CommandFailed(code)
	lvl := r.log.Info
	if code == "internal" || code == "upstream_unavailable" {
		lvl = r.log.Warn
	}
	lvl("command failed",
		zap.String("conn_id", connID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("code", code),
		zap.Error(err),
	)
	r.reply(connID, protocol.ErrorWithCorrelation(event, correlationID, err))
}

// participantDialog resolves dialogID and checks userID belongs to it.
func (r *Router) participantDialog(dialogID, userID string) (chat.Dialog, error) {
	d, ok := r.dialogs.Get(dialogID)
	if !ok {
		return chat.Dialog{}, fmt.Errorf("dialog %s: %w", dialogID, chat.ErrDialogNotFound)
	}
	if !d.Has(userID) {
		return chat.Dialog{}, fmt.Errorf("dialog %s: %w", dialogID, chat.ErrNotParticipant)
	}
	return d, nil
}

// userExists checks the cache first and falls back to the profile store.
func (r *Router) userExists(ctx context.Context, userID string) error {
	if _, ok := r.presence.Snapshot(userID); ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	u, err := r.profiles.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup %s: %v: %w", userID, err, chat.ErrUpstreamUnavailable)
	}
	if u == nil {
		return fmt.Errorf("user %s: %w", userID, chat.ErrUserNotFound)
	}
	return nil
}

func (r *Router) openDialog(ctx context.Context, connID, userID string, m *status.Machine, c protocol.OpenDialog) error {
	if c.UserID == userID {
		return fmt.Errorf("open dialog: %w", chat.ErrInvalidSelfDialog)
	}
	if err := r.userExists(ctx, c.UserID); err != nil {
		return err
	}
	d, created, err := r.dialogs.GetOrCreate(userID, c.UserID)
	if err != nil {
		return err
	}
	r.hub.Join(connID, d.ID)
	if err := m.Join(); err != nil {
		return err
	}

	r.messages.ListThen(d.ID, func(ms []chat.Message) {
		r.reply(connID, protocol.MustEncode(protocol.EventMessagesList, protocol.MessagesList{
			DialogID: d.ID,
			Messages: protocol.FromMessages(ms),
		}))
	})

	if created {
		for _, uid := range d.Participants {
			for _, cid := range r.presence.ConnectionsForUser(uid) {
				r.pushDialogs(cid, uid)
			}
		}
	}
	return nil
}

func (r *Router) sendMessage(userID string, c protocol.SendMessage) error {
	d, err := r.participantDialog(c.DialogID, userID)
	if err != nil {
		return err
	}
	draft := messages.Draft{
		DialogID:    d.ID,
		SenderID:    userID,
		Type:        chat.MessageType(c.Type),
		Text:        c.Text,
		Attachments: c.DomainAttachments(),
	}
	_, err = r.messages.Append(draft, func(msg chat.Message) {
		dto := protocol.FromMessage(msg)
		plain := protocol.MustEncode(protocol.EventNewMessage, protocol.NewMessage{Message: dto})
		if c.CorrelationID == "" {
			r.toParticipants(d, plain)
			return
		}
		echoed := protocol.MustEncode(protocol.EventNewMessage, protocol.NewMessage{Message: dto, CorrelationID: c.CorrelationID})
		r.hub.SendAll(r.connsOf(userID), echoed)
		r.hub.SendAll(r.connsOf(d.Peer(userID)), plain)
	})
	if err != nil {
		return err
	}
	r.metrics.MessageAppended()

	if r.typing.Stop(d.ID, userID) {
		r.hub.SendAll(r.connsOf(d.Peer(userID)), stopTypingFrame(d.ID, userID))
	}
	return nil
}

// deleteMessage tombstones a message. Only its sender may delete it; a
// missing message is a silent no-op.
func (r *Router) deleteMessage(userID string, c protocol.DeleteMessage) error {
	d, err := r.participantDialog(c.DialogID, userID)
	if errors.Is(err, chat.ErrDialogNotFound) {
		r.log.Debug("delete in unknown dialog", zap.String("dialog_id", c.DialogID))
		return nil
	}
	if err != nil {
		return err
	}
	msg, ok := r.messages.Get(d.ID, c.MessageID)
	if !ok {
		r.log.Debug("delete of unknown message",
			zap.String("dialog_id", d.ID),
			zap.String("message_id", c.MessageID),
		)
		return nil
	}
	if msg.SenderID != userID {
		return fmt.Errorf("delete message %s: %w", c.MessageID, chat.ErrForbidden)
	}
	f := protocol.MustEncode(protocol.EventMessageDeleted, protocol.MessageDeleted{
		MessageID: c.MessageID,
		DialogID:  d.ID,
	})
	r.messages.MarkDeleted(c.MessageID, d.ID, func() {
		r.toParticipants(d, f)
	})
	return nil
}

func (r *Router) typingStart(userID string, c protocol.TypingStart) error {
	d, err := r.participantDialog(c.DialogID, userID)
	if err != nil {
		return err
	}
	r.typing.Start(d.ID, userID)
	r.hub.SendAll(r.connsOf(d.Peer(userID)), protocol.MustEncode(protocol.EventUserTyping, protocol.UserTyping{
		DialogID: d.ID,
		UserID:   userID,
	}))
	return nil
}

func (r *Router) typingStop(userID string, c protocol.TypingStop) error {
	d, err := r.participantDialog(c.DialogID, userID)
	if err != nil {
		return err
	}
	if r.typing.Stop(d.ID, userID) {
		r.hub.SendAll(r.connsOf(d.Peer(userID)), stopTypingFrame(d.ID, userID))
	}
	return nil
}

func (r *Router) messageSeen(userID string, c protocol.MessageSeen) error {
	d, err := r.participantDialog(c.DialogID, userID)
	if err != nil {
		return err
	}
	f := protocol.MustEncode(protocol.EventMessagesSeen, protocol.MessagesSeenPayload{
		DialogID: d.ID,
		UserID:   userID,
	})
	_, err = r.messages.MarkSeen(d.ID, userID, func() {
		r.toParticipants(d, f)
	})
	return err
}

func (r *Router) updateProfile(ctx context.Context, userID string, c protocol.UpdateProfile) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	updated, err := r.profiles.UpdateProfile(ctx, userID, c.Patch())
	if errors.Is(err, chat.ErrBadRequest) {
		return err
	}
	if err != nil {
		return fmt.Errorf("update profile %s: %v: %w", userID, err, chat.ErrUpstreamUnavailable)
	}
	if updated == nil {
		return fmt.Errorf("update profile %s: %w", userID, chat.ErrUserNotFound)
	}
	snap := r.presence.Refresh(*updated)
	r.bus.Emit(bus.ProfileUpdated, snap)
	r.hub.Broadcast(userStatusFrame(snap))
	return nil
}
