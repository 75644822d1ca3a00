package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/omochice/websocket-chatroom/internal/client"
	"github.com/omochice/websocket-chatroom/internal/config"
	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

const (
	colorSelf   = "#a9dc76"
	colorOther  = "#78dce8"
	colorSystem = "#ffd866"
	colorError  = "#ff6188"

	defaultName = "Guest"
)

// ui owns every widget and the chat state. Its fields are only touched on
// the tview event loop.
type ui struct {
	app    *tview.Application
	pages  *tview.Pages
	chat   *tview.TextView
	logs   *tview.TextView
	users  *tview.TextView
	input  *tview.InputField
	client *client.Client

	session *client.Session
	roster  *client.Roster
}

func runUI(ctx context.Context, c *client.Client, cfg config.ClientConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u := newUI(c, cfg)
	if cfg.Name != "" {
		u.join(cfg.URL, cfg.Name)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = c.Run(ctx)
	}()
	go func() {
		for ev := range c.Events() {
			u.app.QueueUpdateDraw(func() { u.handle(ev) })
		}
	}()

	err := u.app.Run()
	cancel()
	<-runDone
	return err
}

func newUI(c *client.Client, cfg config.ClientConfig) *ui {
	u := &ui{
		app:    tview.NewApplication(),
		pages:  tview.NewPages(),
		chat:   tview.NewTextView(),
		logs:   tview.NewTextView(),
		users:  tview.NewTextView(),
		input:  tview.NewInputField(),
		client: c,
		roster: client.NewRoster(nil),
	}

	for _, tv := range []*tview.TextView{u.chat, u.logs, u.users} {
		tv.SetDynamicColors(true)
		tv.SetWordWrap(true)
		tv.SetBorder(true)
	}
	u.chat.SetTitle("Chat")
	u.logs.SetTitle("Log")
	u.users.SetTitle("Users")

	u.input.SetLabel("> ")
	u.input.SetPlaceholder("Type a message, then press ENTER to send...")
	u.input.SetBorder(true)
	u.input.SetTitle("Send")
	u.input.SetTitleAlign(tview.AlignLeft)
	u.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			u.send()
		}
	})

	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(u.users, 0, 2, false).
		AddItem(u.logs, 0, 1, false)
	body := tview.NewFlex().
		AddItem(u.chat, 0, 3, false).
		AddItem(side, 0, 1, false)
	chatPage := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(u.input, 3, 0, true)

	welcome := tview.NewForm()
	welcome.SetBorder(true).SetTitle("Join chat room")
	welcome.AddInputField("URL", cfg.URL, 48, nil, nil)
	welcome.AddInputField("Name", cmp.Or(cfg.Name, defaultName), 24, nil, nil)
	welcome.AddButton("Join", func() {
		url := welcome.GetFormItemByLabel("URL").(*tview.InputField).GetText()
		name := welcome.GetFormItemByLabel("Name").(*tview.InputField).GetText()
		if err := config.ValidateURL(url); err != nil {
			welcome.SetTitle("Join chat room: " + err.Error())
			return
		}
		if strings.TrimSpace(name) == "" {
			welcome.SetTitle("Join chat room: name is required")
			return
		}
		u.join(url, strings.TrimSpace(name))
	})
	welcome.AddButton("Quit", u.app.Stop)

	u.pages.AddPage("welcome", welcome, true, true)
	u.pages.AddPage("main", chatPage, true, false)

	u.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			u.app.Stop()
			return nil
		}
		return event
	})
	u.app.SetRoot(u.pages, true).EnableMouse(true)
	return u
}

func (u *ui) join(url, name string) {
	u.client.Configure(url, name)
	u.pages.SwitchToPage("main")
	u.app.SetFocus(u.input)
	u.log(colorSystem, "connecting to %s as %s", url, name)
}

func (u *ui) handle(ev client.Event) {
	switch ev := ev.(type) {
	case client.ConnectedEvent:
		u.session = ev.Session
		u.roster = client.NewRoster(ev.Users)
		u.log(colorSystem, "connected as %s (#%d)", ev.Name, ev.ID)
		u.renderUsers()

	case client.DisconnectedEvent:
		u.session = nil
		u.roster = client.NewRoster(nil)
		u.renderUsers()
		switch {
		case ev.Err == nil:
			u.log(colorSystem, "disconnected")
		case errors.Is(ev.Err, client.ErrHandshake):
			u.log(colorError, "handshake failed, retrying: %v", ev.Err)
		default:
			u.log(colorError, "disconnected, retrying: %v", ev.Err)
		}

	case client.MessageReceivedEvent:
		switch m := ev.Message.(type) {
		case protocol.UserMessage:
			u.say(colorOther, m.Name, m.Body)
		case protocol.NewUserAdded:
			if u.roster.Apply(m) {
				u.log(colorSystem, "%s joined", m.Name)
			}
		case protocol.Disconnected:
			if u.roster.Apply(m) {
				u.log(colorSystem, "%s left", m.Name)
			}
		default:
			u.roster.Apply(m)
		}
		u.renderUsers()
	}
}

func (u *ui) send() {
	body := strings.TrimSpace(u.input.GetText())
	if body == "" {
		return
	}
	if u.session == nil {
		u.log(colorError, "not connected")
		return
	}
	if err := u.session.Submit(body); err != nil {
		u.log(colorError, "could not send: %v", err)
		return
	}
	// The server does not echo our own messages.
	u.say(colorSelf, u.session.Name(), body)
	u.input.SetText("")
}

func (u *ui) say(color, name, body string) {
	fmt.Fprintf(u.chat, "[gray]%s [%s]%s[-]: %s\n",
		time.Now().Format("15:04"), color, tview.Escape(name), tview.Escape(body))
	u.chat.ScrollToEnd()
}

func (u *ui) log(color, format string, args ...any) {
	fmt.Fprintf(u.logs, "[%s]%s[-]\n", color, tview.Escape(fmt.Sprintf(format, args...)))
	u.logs.ScrollToEnd()
}

func (u *ui) renderUsers() {
	var b strings.Builder
	self := uint32(0)
	if u.session != nil {
		self = u.session.ID()
	}
	for _, user := range u.roster.Users() {
		color := colorOther
		if user.ID == self {
			color = colorSelf
		}
		fmt.Fprintf(&b, "[%s]%s[-] #%d\n", color, tview.Escape(user.Name), user.ID)
	}
	u.users.SetText(b.String())
}
