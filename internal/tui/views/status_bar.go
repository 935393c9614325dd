package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"chatterm/internal/status"
)

// StatusBar displays the profile, connection state, key hints and
// transient notices.
type StatusBar struct {
	*tview.TextView
	profile string
	state   status.State
	hints   string
	flash   string
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(s status.State) {
	sb.state = s
	sb.render()
}

// SetHints updates the key hint display for the current page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = strings.Join(hints, " ")
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	color := "yellow"
	switch sb.state {
	case status.Ready:
		color = "green"
	case status.Error:
		color = "red"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s", sb.profile, color, sb.state, clock)
	if sb.hints != "" {
		line += fmt.Sprintf(" | [::d]%s[-:-:-]", sb.hints)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
