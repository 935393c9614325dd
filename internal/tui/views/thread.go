package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"chatterm/internal/chat"
	"chatterm/internal/view"
)

// Thread displays the conversation's message list: date separators, sender
// labels on messages from others, inline image placeholders, and a pending
// marker where the server has not assigned a timestamp yet.
type Thread struct {
	*tview.TextView
	deriver *view.Deriver
}

// NewThread creates the message thread view.
func NewThread(deriver *view.Deriver) *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &Thread{TextView: tv, deriver: deriver}
}

// SetViewer swaps the deriver, e.g. after login resolves the viewer label.
func (t *Thread) SetViewer(deriver *view.Deriver) {
	t.deriver = deriver
}

// Update re-renders the thread from the merged message list.
func (t *Thread) Update(msgs []chat.Message) {
	t.Clear()

	for i, m := range msgs {
		if t.deriver.ShouldShowDateSeparator(msgs, i) && m.CreatedAt.Assigned() {
			label := t.deriver.SeparatorLabel(m.CreatedAt.Time())
			_, _ = fmt.Fprintf(t, "[::d]── %s ──[-:-:-]\n", label)
		}

		if t.deriver.ShouldShowSenderLabel(msgs, i) {
			_, _ = fmt.Fprintf(t, "[::b]%s[-:-:-]\n", sanitizeForTerminal(m.SenderLabel))
		}

		body := t.renderBody(m)
		ts := "…"
		if m.CreatedAt.Assigned() {
			ts = m.CreatedAt.Time().Local().Format("15:04")
		}
		_, _ = fmt.Fprintf(t, "%s [::d]%s[-:-:-]\n\n", body, ts)
	}

	t.ScrollToEnd()
}

func (t *Thread) renderBody(m chat.Message) string {
	if m.Kind == chat.KindImage {
		return fmt.Sprintf("[green][image %s][-]", imageSize(m.ImagePayload))
	}
	return sanitizeForTerminal(m.Body)
}

// imageSize estimates the decoded size of a base64 data URI.
func imageSize(payload string) string {
	_, b64, found := strings.Cut(payload, ",")
	if !found {
		b64 = payload
	}
	bytes := len(b64) * 3 / 4
	if bytes >= 1<<20 {
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	}
	if bytes >= 1<<10 {
		return fmt.Sprintf("%d KB", bytes>>10)
	}
	return fmt.Sprintf("%d B", bytes)
}
