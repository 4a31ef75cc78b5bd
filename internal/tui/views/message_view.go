package views

import (
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/pairchat/internal/outbox"
	"github.com/matheus3301/pairchat/internal/protocol"
	"github.com/rivo/tview"
)

// MessageView displays messages for a single dialog.
type MessageView struct {
	*tview.TextView
	title string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetPeer updates the title with the peer name and typing indicator.
func (mv *MessageView) SetPeer(name string, typing bool) {
	mv.title = name
	if typing {
		mv.SetTitle(fmt.Sprintf(" %s [::d]typing…[-:-:-] ", tview.Escape(cleanLine(name))))
		return
	}
	mv.SetTitle(fmt.Sprintf(" %s ", tview.Escape(cleanLine(name))))
}

// Update renders confirmed messages followed by the unconfirmed ones.
// nameOf resolves sender ids.
func (mv *MessageView) Update(self string, msgs []protocol.MessageDTO, unconfirmed []outbox.Entry, nameOf func(string) string) {
	mv.Clear()
	var b strings.Builder

	for _, m := range msgs {
		sender := "You"
		if m.SenderID != self {
			sender = tview.Escape(cleanLine(nameOf(m.SenderID)))
		}
		ts := formatTimestamp(m.CreatedAt)

		var mark string
		if m.SenderID == self {
			// Seen by anyone besides the sender.
			if slices.ContainsFunc(m.SeenBy, func(id string) bool { return id != self }) {
				mark = " [blue]✓✓[-]"
			} else {
				mark = " ✓"
			}
		}
		fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", sender, ts, mark, body(m))
	}

	for _, e := range unconfirmed {
		status := "[::d]sending…[-:-:-]"
		if e.Status == outbox.Failed {
			status = "[red]failed: " + tview.Escape(e.Err) + "[-]"
		}
		fmt.Fprintf(&b, "[::b]You[-:-:-] %s\n%s\n\n", status, tview.Escape(cleanText(e.Text)))
	}

	_, _ = fmt.Fprint(mv, b.String())
	mv.ScrollToEnd()
}

func body(m protocol.MessageDTO) string {
	if m.Deleted {
		return "[::i]message deleted[-:-:-]"
	}
	var parts []string
	if m.Text != "" {
		parts = append(parts, tview.Escape(cleanText(m.Text)))
	}
	for _, a := range m.Attachments {
		parts = append(parts, fmt.Sprintf("[::u]%s[-:-:-] (%s)", tview.Escape(cleanLine(a.Name)), tview.Escape(cleanLine(a.URL))))
	}
	return strings.Join(parts, "\n")
}
