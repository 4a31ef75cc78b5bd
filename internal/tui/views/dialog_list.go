package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/tui/model"
	"github.com/rivo/tview"
)

// DialogList is the main dialog list view.
type DialogList struct {
	*tview.Table
	rows []model.DialogRow
}

// NewDialogList creates a new dialog list table.
func NewDialogList() *DialogList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Dialogs ")
	return &DialogList{Table: table}
}

// Update refreshes the list, keeping the selection on the same dialog.
func (dl *DialogList) Update(rows []model.DialogRow) {
	selected := dl.SelectedDialog()
	dl.rows = rows
	dl.Clear()

	dl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	dl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	dl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, r := range rows {
		row := i + 1
		name := displayName(r.Peer.FirstName, r.Peer.LastName, r.Peer.Username, r.Peer.ID)
		if r.Peer.Online {
			name = "[green]●[-] " + name
		} else {
			name = "  " + name
		}
		if r.Unread > 0 {
			name = fmt.Sprintf("%s [yellow](%d)[-]", name, r.Unread)
		}

		dl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		dl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(cleanLine(r.Preview))).SetMaxWidth(40).SetExpansion(2))
		dl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(r.UpdatedAt)).SetMaxWidth(12))
		if r.ID == selected {
			dl.Select(row, 0)
		}
	}
}

// SelectedDialog returns the id of the currently selected dialog.
func (dl *DialogList) SelectedDialog() string {
	row, _ := dl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(dl.rows) {
		return dl.rows[idx].ID
	}
	return ""
}

func displayName(first, last, username, id string) string {
	switch {
	case first != "" && last != "":
		return tview.Escape(cleanLine(first + " " + last))
	case first != "":
		return tview.Escape(cleanLine(first))
	case username != "":
		return tview.Escape(cleanLine(username))
	default:
		return id
	}
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
