package store

// Conversation is a cached conversation row, the persisted shape of the
// view-model entity.
type Conversation struct {
	ID                 string
	Kind               string
	DisplayName        string
	ParticipantIDs     []string
	PeerID             string
	LastMessagePreview string
	LastMessageAt      int64 // unix milliseconds, 0 when no message yet
	UnreadCount        int
}

// Message is a cached message row. Idempotent on (conversation_id, msg_id).
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Content        string
	IsRead         bool
	CreatedAt      int64
}

// OutboxEntry represents a pending outgoing message queued while the
// socket channel was down.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Content        string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}
