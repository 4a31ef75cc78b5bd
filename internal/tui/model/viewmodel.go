package model

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/pairchat/internal/protocol"
	"github.com/samber/lo"
)

// DialogRow is one line of the dialog list.
type DialogRow struct {
	ID        string
	Peer      protocol.UserDTO
	Preview   string
	UpdatedAt int64
	Unread    int
}

// ViewModel caches what the server pushed over the websocket and signals
// UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	self     string
	users    map[string]protocol.UserDTO
	dialogs  map[string]protocol.DialogDTO
	messages map[string][]protocol.MessageDTO
	typing   map[string]map[string]bool // dialog -> user
	active   string
	Flash    Flash

	refreshCh chan struct{}
}

// NewViewModel creates an empty view model for the signed-in user self.
func NewViewModel(self string) *ViewModel {
	return &ViewModel{
		self:      self,
		users:     make(map[string]protocol.UserDTO),
		dialogs:   make(map[string]protocol.DialogDTO),
		messages:  make(map[string][]protocol.MessageDTO),
		typing:    make(map[string]map[string]bool),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Apply folds one server event into the model. The returned error reports
// an undecodable payload; error events are surfaced through Flash instead.
func (vm *ViewModel) Apply(env protocol.Envelope) error {
	var err error
	vm.mu.Lock()
	switch env.Event {
	case protocol.EventUsersList:
		var p protocol.UsersList
		if err = json.Unmarshal(env.Data, &p); err == nil {
			vm.users = lo.SliceToMap(p.Users, func(u protocol.UserDTO) (string, protocol.UserDTO) { return u.ID, u })
		}
	case protocol.EventUserStatusUpdated:
		var p protocol.UserStatusUpdated
		if err = json.Unmarshal(env.Data, &p); err == nil {
			vm.users[p.User.ID] = p.User
		}
	case protocol.EventDialogsList:
		var p protocol.DialogsList
		if err = json.Unmarshal(env.Data, &p); err == nil {
			vm.dialogs = lo.SliceToMap(p.Dialogs, func(d protocol.DialogDTO) (string, protocol.DialogDTO) { return d.ID, d })
		}
	case protocol.EventMessagesList:
		var p protocol.MessagesList
		if err = json.Unmarshal(env.Data, &p); err == nil {
			vm.messages[p.DialogID] = p.Messages
			vm.active = p.DialogID
		}
	case protocol.EventNewMessage:
		var p protocol.NewMessage
		if err = json.Unmarshal(env.Data, &p); err == nil {
			vm.addMessage(p.Message)
		}
	case protocol.EventMessageDeleted:
		var p protocol.MessageDeleted
		if err = json.Unmarshal(env.Data, &p); err == nil {
			for i, m := range vm.messages[p.DialogID] {
				if m.ID == p.MessageID {
					m.Deleted = true
					m.Text = ""
					m.Attachments = nil
					vm.messages[p.DialogID][i] = m
				}
			}
		}
	case protocol.EventMessagesSeen:
		var p protocol.MessagesSeenPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			for i, m := range vm.messages[p.DialogID] {
				if !slices.Contains(m.SeenBy, p.UserID) {
					vm.messages[p.DialogID][i].SeenBy = append(m.SeenBy, p.UserID)
				}
			}
		}
	case protocol.EventUserTyping, protocol.EventUserStopTyping:
		var p protocol.UserTyping
		if err = json.Unmarshal(env.Data, &p); err == nil {
			set := vm.typing[p.DialogID]
			if set == nil {
				set = make(map[string]bool)
				vm.typing[p.DialogID] = set
			}
			if env.Event == protocol.EventUserTyping {
				set[p.UserID] = true
			} else {
				delete(set, p.UserID)
			}
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			vm.Flash.Error(fmt.Sprintf("%s: %s", p.Event, p.Message))
		}
	}
	vm.mu.Unlock()

	if err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	vm.signalRefresh()
	return nil
}

// addMessage appends m or replaces the copy already held. Must hold vm.mu.
func (vm *ViewModel) addMessage(m protocol.MessageDTO) {
	msgs := vm.messages[m.DialogID]
	if i := slices.IndexFunc(msgs, func(x protocol.MessageDTO) bool { return x.ID == m.ID }); i >= 0 {
		msgs[i] = m
	} else {
		vm.messages[m.DialogID] = append(msgs, m)
	}
	if d, ok := vm.dialogs[m.DialogID]; ok {
		d.LastMessageID = m.ID
		d.UpdatedAt = max(d.UpdatedAt, m.CreatedAt)
		vm.dialogs[m.DialogID] = d
	}
	// A new message from someone ends their typing indicator.
	delete(vm.typing[m.DialogID], m.SenderID)
}

// Self returns the signed-in user id.
func (vm *ViewModel) Self() string {
	return vm.self
}

// Active returns the dialog currently shown.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// SetActive switches the shown dialog.
func (vm *ViewModel) SetActive(dialogID string) {
	vm.mu.Lock()
	vm.active = dialogID
	vm.mu.Unlock()
	vm.signalRefresh()
}

// DisplayName returns the best human name for a user id.
func (vm *ViewModel) DisplayName(userID string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return displayName(vm.users[userID], userID)
}

func displayName(u protocol.UserDTO, fallback string) string {
	switch {
	case u.FirstName != "" || u.LastName != "":
		return lo.Ternary(u.LastName == "", u.FirstName, u.FirstName+" "+u.LastName)
	case u.Username != "":
		return u.Username
	default:
		return fallback
	}
}

// Users returns everyone except the signed-in user, online first.
func (vm *ViewModel) Users() []protocol.UserDTO {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := lo.Filter(lo.Values(vm.users), func(u protocol.UserDTO, _ int) bool { return u.ID != vm.self })
	slices.SortFunc(out, func(a, b protocol.UserDTO) int {
		if a.Online != b.Online {
			return lo.Ternary(a.Online, -1, 1)
		}
		return cmp.Compare(a.Username, b.Username)
	})
	return out
}

// UserByUsername finds a user by exact username.
func (vm *ViewModel) UserByUsername(username string) (protocol.UserDTO, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return lo.Find(lo.Values(vm.users), func(u protocol.UserDTO) bool { return u.Username == username })
}

// Dialogs returns the dialog list, most recently active first.
func (vm *ViewModel) Dialogs() []DialogRow {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	rows := make([]DialogRow, 0, len(vm.dialogs))
	for _, d := range vm.dialogs {
		peerID := lo.Ternary(d.Participants[0] == vm.self, d.Participants[1], d.Participants[0])
		peer, ok := vm.users[peerID]
		if !ok {
			peer = protocol.UserDTO{ID: peerID}
		}
		row := DialogRow{ID: d.ID, Peer: peer, UpdatedAt: d.UpdatedAt}
		for _, m := range vm.messages[d.ID] {
			if m.ID == d.LastMessageID {
				row.Preview = preview(m)
			}
			if m.SenderID != vm.self && !m.Deleted && !slices.Contains(m.SeenBy, vm.self) {
				row.Unread++
			}
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b DialogRow) int {
		return cmp.Or(cmp.Compare(b.UpdatedAt, a.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	return rows
}

func preview(m protocol.MessageDTO) string {
	switch {
	case m.Deleted:
		return "(deleted)"
	case m.Type != "text":
		return fmt.Sprintf("[%s]", m.Type)
	default:
		return m.Text
	}
}

// Messages returns a copy of the messages of dialogID in order.
func (vm *ViewModel) Messages(dialogID string) []protocol.MessageDTO {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.messages[dialogID])
}

// PeerName returns the display name of the other participant of dialogID.
func (vm *ViewModel) PeerName(dialogID string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	d, ok := vm.dialogs[dialogID]
	if !ok {
		return dialogID
	}
	peerID := lo.Ternary(d.Participants[0] == vm.self, d.Participants[1], d.Participants[0])
	return displayName(vm.users[peerID], peerID)
}

// Typing returns the display names of users typing in dialogID.
func (vm *ViewModel) Typing(dialogID string) []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	names := lo.Map(lo.Keys(vm.typing[dialogID]), func(id string, _ int) string {
		return displayName(vm.users[id], id)
	})
	slices.Sort(names)
	return names
}

// Unseen reports whether dialogID holds messages from others not yet
// marked seen by the signed-in user.
func (vm *ViewModel) Unseen(dialogID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.ContainsFunc(vm.messages[dialogID], func(m protocol.MessageDTO) bool {
		return m.SenderID != vm.self && !slices.Contains(m.SeenBy, vm.self)
	})
}
