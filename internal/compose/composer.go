// Package compose builds outbound message records. It holds no state and
// performs no persistence; validation happens here, before anything
// touches the network.
package compose

import (
	"encoding/base64"
	"net/http"
	"strings"

	"chatterm/internal/chat"
)

// Text builds a pending text message. The body must be non-empty after
// trimming; the original whitespace is preserved in the sent message.
func Text(body, senderLabel string) (chat.Message, error) {
	if strings.TrimSpace(body) == "" {
		return chat.Message{}, &chat.ValidationError{Reason: "empty message body"}
	}
	return chat.Message{
		SenderLabel: senderLabel,
		Kind:        chat.KindText,
		Body:        body,
	}, nil
}

// Image builds a pending image message with the raw bytes embedded as a
// base64 data URI, so the message carries the image itself rather than a
// URL that could go stale.
func Image(raw []byte, senderLabel string) (chat.Message, error) {
	if len(raw) == 0 {
		return chat.Message{}, &chat.ValidationError{Reason: "no image data"}
	}
	payload := "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw)
	return chat.Message{
		SenderLabel:  senderLabel,
		Kind:         chat.KindImage,
		ImagePayload: payload,
	}, nil
}
