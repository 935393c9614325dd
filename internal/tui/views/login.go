package views

import (
	"github.com/rivo/tview"
)

// LoginForm collects email and password for the initial sign-in.
type LoginForm struct {
	*tview.Form
	onSubmit func(email, password string)
	status   *tview.TextView
	layout   *tview.Flex
}

// NewLoginForm creates the login form.
func NewLoginForm() *LoginForm {
	lf := &LoginForm{
		Form:   tview.NewForm(),
		status: tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter),
	}

	lf.Form.
		AddInputField("Email", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddButton("Sign in", func() {
			if lf.onSubmit == nil {
				return
			}
			email := lf.Form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
			password := lf.Form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
			lf.onSubmit(email, password)
		})
	lf.Form.SetBorder(true).SetTitle(" Sign in ")

	lf.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(lf.Form, 60, 0, true).
			AddItem(nil, 0, 1, false), 11, 0, true).
		AddItem(lf.status, 1, 0, false).
		AddItem(nil, 0, 1, false)

	return lf
}

// Layout returns the centered wrapper around the form.
func (lf *LoginForm) Layout() tview.Primitive {
	return lf.layout
}

// SetOnSubmit sets the sign-in callback.
func (lf *LoginForm) SetOnSubmit(fn func(email, password string)) {
	lf.onSubmit = fn
}

// ShowStatus displays a message under the form, e.g. a login error.
func (lf *LoginForm) ShowStatus(msg string) {
	lf.status.Clear()
	_, _ = lf.status.Write([]byte("[red]" + msg + "[-]"))
}
