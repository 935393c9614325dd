package remote

import (
	"encoding/json"

	"chatterm/internal/chat"
)

// Envelope is the wire format for every server event and client command.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Server event types.
const (
	EventAuthenticated = "authenticated"
	EventSnapshot      = "snapshot"
	EventAppendAck     = "append.ack"
	EventError         = "error"
)

// Client command types.
const (
	CommandAppend = "append"
)

// AuthenticatedPayload is the first event on a new connection.
type AuthenticatedPayload struct {
	UserID      string `json:"userId"`
	SenderLabel string `json:"senderLabel"`
}

// SnapshotPayload carries a complete ordered view of a conversation. The
// server sends one on connect and again on every change; there are no
// partial deltas.
type SnapshotPayload struct {
	ConversationKey string         `json:"conversationKey"`
	Messages        []chat.Message `json:"messages"`
}

// AppendPayload is the outbound compose payload. The server assigns id and
// createdAt. ClientMsgID is the idempotency key: re-sending the same
// client id (crash recovery, retry after a lost ack) must not create a
// second message.
type AppendPayload struct {
	ClientMsgID  string    `json:"clientMsgId"`
	SenderLabel  string    `json:"senderLabel"`
	Kind         chat.Kind `json:"kind"`
	Body         string    `json:"body,omitempty"`
	ImagePayload string    `json:"imagePayload,omitempty"`
}

// AppendAckPayload confirms an append with the server-assigned message.
type AppendAckPayload struct {
	RequestID string       `json:"requestId"`
	Message   chat.Message `json:"message"`
}

// ErrorPayload is sent when a server-side error occurs.
type ErrorPayload struct {
	Message string `json:"message"`
}
