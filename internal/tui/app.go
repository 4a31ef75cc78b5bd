package tui

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/client"
	"github.com/matheus3301/pairchat/internal/outbox"
	"github.com/matheus3301/pairchat/internal/protocol"
	"github.com/matheus3301/pairchat/internal/tui/keys"
	"github.com/matheus3301/pairchat/internal/tui/model"
	"github.com/matheus3301/pairchat/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageDialogs = "dialogs"
	pageUsers   = "users"
	pageChat    = "chat"

	// Typing is re-announced before the server-side TTL runs out.
	typingRefresh = 3 * time.Second
	sendTimeout   = 5 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app        *tview.Application
	pages      *tview.Pages
	vm         *model.ViewModel
	conn       *client.Client
	outbox     *outbox.Sender
	bus        *bus.Bus
	registry   *keys.Registry
	statusBar  *views.StatusBar
	dialogList *views.DialogList
	userList   *views.UserList
	msgView    *views.MessageView
	composer   *views.Composer
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	typingMu   sync.Mutex
	typingIn   string
	typingSent time.Time
}

// NewApp creates the TUI application for the user identified by self.
func NewApp(c *client.Client, self string, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.New()

	a := &App{
		app:        tview.NewApplication(),
		pages:      tview.NewPages(),
		vm:         model.NewViewModel(self),
		conn:       c,
		outbox:     outbox.NewSender(c, b, 10*time.Second, log.Named("outbox")),
		bus:        b,
		registry:   keys.NewRegistry(),
		statusBar:  views.NewStatusBar(),
		dialogList: views.NewDialogList(),
		userList:   views.NewUserList(),
		msgView:    views.NewMessageView(),
		composer:   views.NewComposer(),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}

	a.statusBar.SetStatus("connecting")
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", keys.Rune('q', "quit", a.Stop))
	a.registry.AddGlobal("people", keys.Rune('p', "people", func() { a.showPage(pageUsers) }))
	a.registry.AddGlobal("dialogs", keys.Rune('d', "dialogs", func() { a.showPage(pageDialogs) }))
	a.registry.AddView(pageChat, "compose", keys.Rune('i', "write", func() { a.app.SetFocus(a.composer.InputField) }))

	back := func() {
		a.setTyping(false)
		a.showPage(pageDialogs)
	}
	a.registry.AddView(pageChat, "back", keys.Special(tcell.KeyEscape, "back", back))
	a.registry.AddView(pageUsers, "back", keys.Special(tcell.KeyEscape, "back", back))
}

func (a *App) setupCallbacks() {
	a.dialogList.SetSelectedFunc(func(int, int) {
		if id := a.dialogList.SelectedDialog(); id != "" {
			a.openDialog(a.peerOf(id))
		}
	})
	a.userList.SetSelectedFunc(func(int, int) {
		if id := a.userList.SelectedUser(); id != "" {
			a.openDialog(id)
		}
	})

	a.composer.SetOnTyping(a.setTyping)
	a.composer.SetOnSend(func(text string) {
		a.setTyping(false)
		if cmd, ok := ParseCommand(text); ok {
			a.runCommand(cmd)
			return
		}
		text = strings.TrimPrefix(text, "/")
		dialogID := a.vm.Active()
		if dialogID == "" {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, sendTimeout)
			defer cancel()
			if _, err := a.outbox.Send(ctx, dialogID, text); err != nil {
				a.vm.Flash.Error("send failed: " + err.Error())
			}
			a.app.QueueUpdateDraw(a.refresh)
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageDialogs, a.dialogList, true, true)
	a.pages.AddPage(pageUsers, a.userList, true, false)
	a.pages.AddPage(pageChat, chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()
		_, typing := a.app.GetFocus().(*tview.InputField)
		if a.registry.HandleEvent(page, event, typing) {
			return nil
		}
		return event
	})
}

func (a *App) showPage(name string) {
	a.pages.SwitchToPage(name)
	switch name {
	case pageDialogs:
		a.app.SetFocus(a.dialogList)
	case pageUsers:
		a.app.SetFocus(a.userList)
	case pageChat:
		a.app.SetFocus(a.composer.InputField)
	}
	a.statusBar.SetHints(strings.Join(a.registry.Hints(name), " "))
}

func (a *App) peerOf(dialogID string) string {
	for _, r := range a.vm.Dialogs() {
		if r.ID == dialogID {
			return r.Peer.ID
		}
	}
	return ""
}

// openDialog asks the server for the dialog with userID; the page switches
// when messages_list arrives.
func (a *App) openDialog(userID string) {
	if userID == "" {
		return
	}
	a.setTyping(false)
	go a.send(func(ctx context.Context) error { return a.conn.OpenDialog(ctx, userID) })
}

func (a *App) send(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(a.ctx, sendTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.log.Warn("send failed", zap.Error(err))
		a.vm.Flash.Error(err.Error())
		a.app.QueueUpdateDraw(a.refresh)
	}
}

// setTyping announces typing state changes for the active dialog.
func (a *App) setTyping(typing bool) {
	dialogID := a.vm.Active()

	a.typingMu.Lock()
	var start, stop string
	switch {
	case typing && dialogID != "" && (a.typingIn != dialogID || time.Since(a.typingSent) > typingRefresh):
		if a.typingIn != "" && a.typingIn != dialogID {
			stop = a.typingIn
		}
		start = dialogID
		a.typingIn = dialogID
		a.typingSent = time.Now()
	case !typing && a.typingIn != "":
		stop = a.typingIn
		a.typingIn = ""
	}
	a.typingMu.Unlock()

	if stop == "" && start == "" {
		return
	}
	go a.send(func(ctx context.Context) error {
		if stop != "" {
			if err := a.conn.TypingStop(ctx, stop); err != nil {
				return err
			}
		}
		if start != "" {
			return a.conn.TypingStart(ctx, start)
		}
		return nil
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "open":
		u, ok := a.vm.UserByUsername(cmd.Arg(0))
		if !ok {
			a.vm.Flash.Error("no such user: " + cmd.Arg(0))
			a.refresh()
			return
		}
		a.openDialog(u.ID)
	case "delete":
		dialogID := a.vm.Active()
		msgs := a.vm.Messages(dialogID)
		for i := len(msgs) - 1; i >= 0; i-- {
			if m := msgs[i]; m.SenderID == a.vm.Self() && !m.Deleted {
				go a.send(func(ctx context.Context) error { return a.conn.DeleteMessage(ctx, dialogID, m.ID) })
				return
			}
		}
	case "name", "bio", "username":
		if cmd.Args == "" {
			usage, _ := cmd.Usage()
			a.vm.Flash.Info("usage: " + usage)
			a.refresh()
			return
		}
		var p protocol.UpdateProfile
		switch cmd.Name {
		case "name":
			first, last := cmd.Arg(0), strings.TrimSpace(strings.TrimPrefix(cmd.Args, cmd.Arg(0)))
			p.FirstName, p.LastName = &first, &last
		case "bio":
			p.Bio = &cmd.Args
		case "username":
			p.Username = &cmd.Args
		}
		go a.send(func(ctx context.Context) error { return a.conn.UpdateProfile(ctx, p) })
	case "quit":
		a.Stop()
	default:
		a.vm.Flash.Error("unknown command: /" + cmd.Name)
		a.refresh()
	}
}

// refresh redraws every view from the model. Must run on the UI goroutine.
func (a *App) refresh() {
	a.dialogList.Update(a.vm.Dialogs())
	a.userList.Update(a.vm.Users())
	a.statusBar.SetUser(a.vm.DisplayName(a.vm.Self()))

	if dialogID := a.vm.Active(); dialogID != "" {
		a.msgView.SetPeer(a.vm.PeerName(dialogID), len(a.vm.Typing(dialogID)) > 0)
		a.msgView.Update(a.vm.Self(), a.vm.Messages(dialogID), a.outbox.Unconfirmed(dialogID), a.vm.DisplayName)
	}
	a.statusBar.SetFlash(a.vm.Flash.Current())
}

// handle applies one server event and reconciles the outbox.
func (a *App) handle(env protocol.Envelope) {
	if err := a.vm.Apply(env); err != nil {
		a.log.Warn("bad event", zap.Error(err))
		return
	}
	switch env.Event {
	case protocol.EventNewMessage:
		var nm protocol.NewMessage
		if protocol.DecodeData(env, &nm) == nil {
			a.outbox.Ack(nm)
		}
	case protocol.EventError:
		var e protocol.ErrorPayload
		if protocol.DecodeData(env, &e) == nil {
			a.outbox.Reject(e)
		}
	}

	a.app.QueueUpdateDraw(func() {
		page, _ := a.pages.GetFrontPage()
		if env.Event == protocol.EventMessagesList && page != pageChat {
			a.showPage(pageChat)
			page = pageChat
		}
		a.refresh()
		if page == pageChat {
			a.markSeen()
		}
	})
}

func (a *App) markSeen() {
	dialogID := a.vm.Active()
	if dialogID == "" || !a.vm.Unseen(dialogID) {
		return
	}
	go a.send(func(ctx context.Context) error { return a.conn.MarkSeen(ctx, dialogID) })
}

func (a *App) pump() {
	updates, unsub := a.bus.Subscribe("outbox.", 64)
	defer unsub()
	a.outbox.Start(a.ctx)
	defer a.outbox.Stop()

	events := a.conn.Events()
	for {
		select {
		case env, ok := <-events:
			if !ok {
				a.vm.Flash.Sticky("disconnected", true)
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetStatus("[red]offline[-]")
					a.refresh()
				})
				return
			}
			a.handle(env)
		case <-updates:
			a.app.QueueUpdateDraw(a.refresh)
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.statusBar.SetStatus("[green]online[-]")
	a.showPage(pageDialogs)
	go a.pump()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
