package cache

import (
	"time"

	"chatterm/internal/chat"
)

// QueueOutbox adds a composed message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, conversationKey string, m chat.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_key, sender_label, kind, body, image_payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationKey, m.SenderLabel, string(m.Kind), m.Body, m.ImagePayload, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueOutbox puts a 'sending' entry back to 'queued' so the sender
// retries it, e.g. after a transient append failure.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// RequeueFailed puts every 'failed' entry back to 'queued'. Backs the
// /retry command.
func (db *DB) RequeueFailed() error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = '', updated_at = ? WHERE status = 'failed'`, now)
	return err
}

// RecoverSending requeues entries stuck in 'sending' from a previous run
// that crashed mid-send. Called once at startup, before the sender starts.
func (db *DB) RecoverSending() error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, now)
	return err
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`status = 'queued'`)
}

// UnsentOutbox returns entries that have not reached the server yet, in
// queue order. The thread view renders these as the unordered tail.
func (db *DB) UnsentOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`status IN ('queued', 'sending', 'failed')`)
}

func (db *DB) listOutbox(where string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_key, sender_label, kind, body, image_payload, status, error_message, server_msg_id
		FROM outbox WHERE ` + where + ` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationKey, &e.SenderLabel, &kind, &e.Body, &e.ImagePayload, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		e.Kind = chat.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
