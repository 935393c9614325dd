package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the input line at the bottom of the thread. Plain text is
// sent as a message; lines starting with '/' are commands ("/image
// <path>", "/retry").
type Composer struct {
	*tview.InputField
	onSend    func(text string)
	onCommand func(input string)
}

// NewComposer creates the composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.GetText()
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "/") {
			if c.onCommand != nil {
				c.onCommand(strings.TrimPrefix(text, "/"))
			}
		} else if c.onSend != nil {
			c.onSend(text)
		}
		c.SetText("")
	})

	return c
}

// SetOnSend sets the callback for plain message text.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnCommand sets the callback for '/' commands, without the slash.
func (c *Composer) SetOnCommand(fn func(input string)) {
	c.onCommand = fn
}
