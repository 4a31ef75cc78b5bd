package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/tui/model"
	"github.com/rivo/tview"
)

// StatusBar displays the signed-in user, connection state and hints.
type StatusBar struct {
	*tview.TextView
	user   string
	status string
	hints  string
	flash  model.Notice
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetUser updates the signed-in user display.
func (sb *StatusBar) SetUser(name string) {
	sb.user = name
	sb.render()
}

// SetStatus updates the connection status display.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetHints updates the key hints.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
	sb.render()
}

// SetFlash shows n; errors render red, info yellow.
func (sb *StatusBar) SetFlash(n model.Notice) {
	sb.flash = n
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", tview.Escape(cleanLine(sb.user)), sb.status, clock)
	if sb.hints != "" {
		line += " | [::d]" + sb.hints + "[-:-:-]"
	}
	if sb.flash.Text != "" {
		color := "yellow"
		if sb.flash.Error {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash.Text))
	}

	_, _ = fmt.Fprint(sb, line)
}
