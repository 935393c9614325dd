// Package view derives presentation decisions from an ordered message
// list: where date separators fall, which messages carry a sender label.
// Everything here is a pure function of its inputs; the renderer never
// re-derives sync state.
package view

import (
	"time"

	"chatterm/internal/chat"
)

// Deriver answers presentation queries for a given viewer.
type Deriver struct {
	viewer string
	loc    *time.Location

	// Now is the clock used for "Today"/"Yesterday" labels. Overridable in tests.
	Now func() time.Time
}

// New creates a deriver for the given viewer label and display time zone.
func New(viewerLabel string, loc *time.Location) *Deriver {
	if loc == nil {
		loc = time.Local
	}
	return &Deriver{viewer: viewerLabel, loc: loc, Now: time.Now}
}

// IsOwn reports whether the message was sent by the viewer.
func (d *Deriver) IsOwn(m chat.Message) bool {
	return m.SenderLabel == d.viewer
}

// ShouldShowSenderLabel reports whether a sender name is rendered above
// message i. Own messages never show one; every other message does.
func (d *Deriver) ShouldShowSenderLabel(msgs []chat.Message, i int) bool {
	return !d.IsOwn(msgs[i])
}

// ShouldShowDateSeparator reports whether a calendar-day separator is
// rendered before message i. The first message always gets one. If either
// timestamp is still pending, no separator is inserted.
func (d *Deriver) ShouldShowDateSeparator(msgs []chat.Message, i int) bool {
	if i == 0 {
		return true
	}
	cur := msgs[i].CreatedAt
	prev := msgs[i-1].CreatedAt
	if !cur.Assigned() || !prev.Assigned() {
		return false
	}
	return !sameDay(cur.Time().In(d.loc), prev.Time().In(d.loc))
}

// SeparatorLabel formats a separator for the given message time: "Today",
// "Yesterday", or a short calendar date. Comparison is by calendar day in
// the viewer's zone, never by elapsed hours.
func (d *Deriver) SeparatorLabel(t time.Time) string {
	t = t.In(d.loc)
	now := d.Now().In(d.loc)

	if sameDay(t, now) {
		return "Today"
	}
	if sameDay(t, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return t.Format("2 Jan 2006")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
