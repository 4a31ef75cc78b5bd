package router

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/protocol"
	"go.uber.org/zap"
)

func userStatusFrame(u chat.User) protocol.Frame {
	return protocol.MustEncode(protocol.EventUserStatusUpdated, protocol.UserStatusUpdated{User: protocol.FromUser(u)})
}

func stopTypingFrame(dialogID, userID string) protocol.Frame {
	return protocol.MustEncode(protocol.EventUserStopTyping, protocol.UserTyping{DialogID: dialogID, UserID: userID})
}

// connsOf returns the live connections of every listed user.
func (r *Router) connsOf(userIDs ...string) []string {
	var out []string
	for _, id := range slices.Compact(slices.Sorted(slices.Values(userIDs))) {
		out = append(out, r.presence.ConnectionsForUser(id)...)
	}
	return out
}

// toParticipants queues f for all live connections of both participants,
// including the acting user's own devices.
func (r *Router) toParticipants(d chat.Dialog, f protocol.Frame) {
	r.hub.SendAll(r.connsOf(d.Participants[0], d.Participants[1]), f)
}

// toPeerOf queues f for the other participant of dialogID.
func (r *Router) toPeerOf(dialogID, userID string, f protocol.Frame) {
	d, ok := r.dialogs.Get(dialogID)
	if !ok || !d.Has(userID) {
		return
	}
	r.hub.SendAll(r.connsOf(d.Peer(userID)), f)
}

func (r *Router) reply(connID string, f protocol.Frame) {
	r.hub.Send(connID, f)
}

func (r *Router) pushDialogs(connID, userID string) {
	r.reply(connID, protocol.MustEncode(protocol.EventDialogsList, protocol.DialogsList{
		Dialogs: protocol.FromDialogs(r.dialogs.ListForUser(userID)),
	}))
}

func (r *Router) pushUsers(ctx context.Context, connID string) {
	r.reply(connID, protocol.MustEncode(protocol.EventUsersList, protocol.UsersList{
		Users: protocol.FromUsers(r.users(ctx)),
	}))
}

// users merges every stored profile with live presence. If the store is
// unreachable the cached snapshots are served instead.
func (r *Router) users(ctx context.Context) []chat.User {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stored, err := r.profiles.ListUsers(ctx)
	if err != nil {
		r.log.Warn("list users failed, serving cached snapshots", zap.Error(err))
		stored = r.presence.Snapshots()
	}
	out := make([]chat.User, 0, len(stored))
	for _, u := range stored {
		if cached, ok := r.presence.Snapshot(u.ID); ok && cached.LastSeen.After(u.LastSeen) {
			u.LastSeen = cached.LastSeen
		}
		u.Online = r.presence.Online(u.ID)
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b chat.User) int {
		return cmp.Or(strings.Compare(a.Username, b.Username), strings.Compare(a.ID, b.ID))
	})
	return out
}
