package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	"chatterm/internal/chat"
)

// LoadSnapshot returns the last persisted message list for a conversation
// key, or nil if none was cached. An unreadable blob yields a
// CorruptDataError; callers treat that the same as an empty cache.
func (db *DB) LoadSnapshot(key string) ([]chat.Message, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM snapshots WHERE conversation_key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []chat.Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		return nil, &chat.CorruptDataError{Detail: "cache blob for " + key, Err: err}
	}
	return msgs, nil
}

// SaveSnapshot overwrites the persisted message list for a conversation
// key. Writes are whole-row replacements, so concurrent callers settle on
// last-write-wins without partial state.
func (db *DB) SaveSnapshot(key string, msgs []chat.Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO snapshots (conversation_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		key, string(payload), now)
	return err
}
