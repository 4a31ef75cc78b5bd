package keys

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// Action is one keybinding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
	// WhileTyping lets the binding fire while a text field has focus.
	// Rune bindings should leave it false or they swallow letters.
	WhileTyping bool
}

// Rune builds a visible binding for a printable key, described as "q:quit".
func Rune(r rune, label string, handler func()) *Action {
	return &Action{Key: tcell.KeyRune, Rune: r, Description: fmt.Sprintf("%c:%s", r, label), Handler: handler, Visible: true}
}

// Special builds a visible binding for a non-rune key that also fires while
// typing, described as "esc:back".
func Special(k tcell.Key, label string, handler func()) *Action {
	name := strings.ToLower(tcell.KeyNames[k])
	if name == "" {
		name = fmt.Sprintf("key%d", k)
	}
	return &Action{Key: k, Description: name + ":" + label, Handler: handler, Visible: true, WhileTyping: true}
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

type binding struct {
	name   string
	action *Action
}

// Registry holds keybindings per view plus a global set. Bindings keep their
// registration order, which is also the order of the hints.
type Registry struct {
	global []binding
	views  map[string][]binding
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]binding)}
}

// AddGlobal registers a binding active on every view. Re-registering a name
// replaces the earlier action in place.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global = upsert(r.global, name, action)
}

// AddView registers a binding active only on view. View bindings win over
// global ones for the same key.
func (r *Registry) AddView(view, name string, action *Action) {
	r.views[view] = upsert(r.views[view], name, action)
}

func upsert(list []binding, name string, action *Action) []binding {
	for i := range list {
		if list[i].name == name {
			list[i].action = action
			return list
		}
	}
	return append(list, binding{name: name, action: action})
}

// Hints returns visible descriptions for view, view bindings first.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, set := range [][]binding{r.views[view], r.global} {
		for _, b := range set {
			if b.action.Visible {
				hints = append(hints, b.action.Description)
			}
		}
	}
	return hints
}

// HandleEvent dispatches ev to the first matching action for view. While
// typing only WhileTyping actions are considered. Returns true if a handler
// ran.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey, typing bool) bool {
	for _, set := range [][]binding{r.views[view], r.global} {
		for _, b := range set {
			if typing && !b.action.WhileTyping {
				continue
			}
			if b.action.Matches(ev) {
				b.action.Handler()
				return true
			}
		}
	}
	return false
}
