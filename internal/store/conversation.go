package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertConversation inserts or updates a cached conversation row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	participants, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO conversations (id, kind, display_name, participant_ids, peer_id, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			display_name = excluded.display_name,
			participant_ids = excluded.participant_ids,
			peer_id = excluded.peer_id,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, c.DisplayName, string(participants), c.PeerID, c.LastMessagePreview, c.LastMessageAt, c.UnreadCount, now)
	return err
}

// ListConversations returns cached conversations ordered unread-first,
// then by last message recency.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, kind, display_name, participant_ids, peer_id, last_message_preview, last_message_at, unread_count
		FROM conversations
		ORDER BY unread_count DESC, last_message_at DESC, display_name ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single cached conversation, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT id, kind, display_name, participant_ids, peer_id, last_message_preview, last_message_at, unread_count
		FROM conversations
		WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MarkConversationRead zeroes the unread counter and flips the cached
// messages to read. is_read is monotonic: it never goes back to 0.
func (db *DB) MarkConversationRead(id string) error {
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
		return err
	}
	_, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND is_read = 0`, id)
	return err
}

// ConversationCount returns the number of cached conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var participants string
	if err := row.Scan(&c.ID, &c.Kind, &c.DisplayName, &participants, &c.PeerID, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount); err != nil {
		return nil, err
	}
	if participants != "" {
		if err := json.Unmarshal([]byte(participants), &c.ParticipantIDs); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
