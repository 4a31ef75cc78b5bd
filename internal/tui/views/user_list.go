package views

import (
	"github.com/matheus3301/pairchat/internal/protocol"
	"github.com/rivo/tview"
)

// UserList shows everyone the user can open a dialog with.
type UserList struct {
	*tview.Table
	users []protocol.UserDTO
}

// NewUserList creates the people picker.
func NewUserList() *UserList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" People ")
	return &UserList{Table: table}
}

// Update refreshes the list.
func (ul *UserList) Update(users []protocol.UserDTO) {
	ul.users = users
	ul.Clear()

	ul.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	ul.SetCell(0, 1, tview.NewTableCell(" Username").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	ul.SetCell(0, 2, tview.NewTableCell(" Seen").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, u := range users {
		row := i + 1
		seen := "[green]online[-]"
		if !u.Online {
			seen = formatTimestamp(u.LastSeen)
		}
		ul.SetCell(row, 0, tview.NewTableCell(" "+displayName(u.FirstName, u.LastName, u.Username, u.ID)).SetExpansion(1))
		ul.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(cleanLine(u.Username))).SetExpansion(1))
		ul.SetCell(row, 2, tview.NewTableCell(" "+seen).SetMaxWidth(12))
	}
}

// SelectedUser returns the id of the selected user.
func (ul *UserList) SelectedUser() string {
	row, _ := ul.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(ul.users) {
		return ul.users[idx].ID
	}
	return ""
}
