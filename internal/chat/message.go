package chat

import (
	"encoding/json"
	"time"
)

// Kind discriminates the message payload variant.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Stamp is a server-assigned creation time. A freshly composed message has
// no stamp until the server acknowledges it; consumers must check Assigned
// before ordering or grouping by it.
type Stamp struct {
	unixMs   int64
	assigned bool
}

// StampAt returns an assigned stamp for the given unix-millisecond time.
func StampAt(unixMs int64) Stamp {
	return Stamp{unixMs: unixMs, assigned: true}
}

// Assigned reports whether the server has assigned this stamp.
func (s Stamp) Assigned() bool {
	return s.assigned
}

// UnixMs returns the stamp in unix milliseconds. Zero if pending.
func (s Stamp) UnixMs() int64 {
	return s.unixMs
}

// Time returns the stamp as a time.Time. The zero time if pending.
func (s Stamp) Time() time.Time {
	if !s.assigned {
		return time.Time{}
	}
	return time.UnixMilli(s.unixMs)
}

// MarshalJSON encodes an assigned stamp as unix milliseconds and a pending
// stamp as null, matching the cache and wire layouts.
func (s Stamp) MarshalJSON() ([]byte, error) {
	if !s.assigned {
		return []byte("null"), nil
	}
	return json.Marshal(s.unixMs)
}

// UnmarshalJSON decodes null as a pending stamp.
func (s *Stamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Stamp{}
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*s = Stamp{unixMs: ms, assigned: true}
	return nil
}

// Message is a single chat message. ID and CreatedAt are assigned by the
// server; both are empty/pending on a freshly composed message.
type Message struct {
	ID           string `json:"id"`
	SenderLabel  string `json:"senderLabel"`
	Kind         Kind   `json:"kind"`
	Body         string `json:"body,omitempty"`
	ImagePayload string `json:"imagePayload,omitempty"`
	CreatedAt    Stamp  `json:"createdAt"`
}
