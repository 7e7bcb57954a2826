package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). is_read only ever moves towards read.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	isRead := 0
	if m.IsRead {
		isRead = 1
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, is_read, created_at, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			is_read = MAX(messages.is_read, excluded.is_read)`,
		m.ConversationID, m.MsgID, m.SenderID, m.Content, isRead, m.CreatedAt, now)
	return err
}

// ListMessages returns messages for a conversation using keyset
// pagination by creation time.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, content, is_read, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var isRead int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Content, &isRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsRead = isRead != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
