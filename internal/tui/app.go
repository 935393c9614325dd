// Package tui implements the terminal user interface: a login form, the
// message thread with its composer, and a status bar. All state arrives
// over the event bus; the UI never touches the cache or the stream
// directly.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"chatterm/internal/bus"
	"chatterm/internal/status"
	"chatterm/internal/tui/keys"
	"chatterm/internal/tui/model"
	"chatterm/internal/tui/views"
	"chatterm/internal/view"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger
	registry  *keys.Registry
	statusBar *views.StatusBar
	thread    *views.Thread
	composer  *views.Composer
	login     *views.LoginForm
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, b *bus.Bus, machine *status.Machine, profileName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		bus:       b,
		machine:   machine,
		logger:    logger,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		thread:    views.NewThread(view.New(vm.SenderLabel(), time.Local)),
		composer:  views.NewComposer(),
		login:     views.NewLoginForm(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.statusBar.SetState(machine.Current())
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddPage("chat", "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
}

func (a *App) setupCallbacks() {
	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.SendText(text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
			}
			a.refresh()
		}()
	})

	a.composer.SetOnCommand(func(input string) {
		cmd := ParseCommand(input)
		go func() {
			switch cmd.Name {
			case "image":
				if cmd.Args == "" {
					a.vm.Flash.Set("Usage: /image <path>", 5*time.Second)
					break
				}
				if err := a.vm.SendImage(cmd.Args); err != nil {
					a.vm.Flash.Set("Image failed: "+err.Error(), 5*time.Second)
				}
			case "retry":
				if err := a.vm.RetryFailed(); err != nil {
					a.vm.Flash.Set("Retry failed: "+err.Error(), 5*time.Second)
				}
			case "logout":
				if err := a.vm.Logout(); err != nil {
					a.vm.Flash.Set("Logout failed: "+err.Error(), 5*time.Second)
					break
				}
				_ = a.machine.Transition(status.AuthRequired)
			default:
				a.vm.Flash.Set("Unknown command: /"+cmd.Name, 5*time.Second)
			}
			a.refresh()
		}()
	})

	a.login.SetOnSubmit(func(email, password string) {
		go func() {
			if err := a.vm.Login(a.ctx, email, password); err != nil {
				a.logger.Warn("login failed", zap.Error(err))
				a.app.QueueUpdateDraw(func() {
					a.login.ShowStatus(err.Error())
				})
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.thread.SetViewer(view.New(a.vm.SenderLabel(), time.Local))
				a.showChat()
			})
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, true)

	a.pages.AddPage("chat", chatFlex, true, true)
	a.pages.AddPage("login", a.login.Layout(), true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if currentPage == "chat" && event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) showChat() {
	a.pages.SwitchToPage("chat")
	a.statusBar.SetHints(a.registry.Hints("chat"))
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) showLogin() {
	a.pages.SwitchToPage("login")
	a.statusBar.SetHints(a.registry.Hints("login"))
	a.app.SetFocus(a.login.Form)
}

// refresh re-reads the merged message list off the UI goroutine and draws.
func (a *App) refresh() {
	msgs := a.vm.Messages()
	a.app.QueueUpdateDraw(func() {
		a.thread.Update(msgs)
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

// Run starts the TUI application and blocks until quit.
func (a *App) Run() error {
	if a.machine.Current() == status.AuthRequired {
		a.showLogin()
	} else {
		a.showChat()
	}

	go a.eventLoop()
	go a.refresh()

	return a.app.Run()
}

// eventLoop reacts to bus events with targeted redraws. A slow terminal
// only costs dropped redundant redraws, never dropped messages.
func (a *App) eventLoop() {
	ch, unsub := a.bus.Subscribe("", 128)
	defer unsub()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-ch:
			a.handleEvent(evt)
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "view.updated", "outbox.sent":
		a.refresh()

	case "outbox.send_failed":
		a.vm.Flash.Set("Send failed, /retry to try again", 5*time.Second)
		a.refresh()

	case "session.status_changed":
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetState(change.To)
			currentPage, _ := a.pages.GetFrontPage()
			if change.To == status.AuthRequired && currentPage != "login" {
				a.showLogin()
				return
			}
			if currentPage == "login" && change.To != status.AuthRequired && change.To != status.Error {
				a.showChat()
			}
		})

	case "remote.error":
		a.vm.Flash.Set("Server error", 5*time.Second)
		a.refresh()
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
