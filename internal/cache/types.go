package cache

import "chatterm/internal/chat"

// OutboxEntry represents a composed message waiting to be appended to the
// remote stream. Entries survive restarts, so messages written offline are
// sent when connectivity returns.
type OutboxEntry struct {
	ID              int64
	ClientMsgID     string
	ConversationKey string
	SenderLabel     string
	Kind            chat.Kind
	Body            string
	ImagePayload    string
	Status          string // queued, sending, sent, failed
	ErrorMessage    string
	ServerMsgID     string
}

// Message builds the pending chat message this entry represents.
func (e *OutboxEntry) Message() chat.Message {
	return chat.Message{
		SenderLabel:  e.SenderLabel,
		Kind:         e.Kind,
		Body:         e.Body,
		ImagePayload: e.ImagePayload,
	}
}
