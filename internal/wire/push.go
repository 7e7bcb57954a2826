package wire

// Server-pushed event payloads. This is the closed set of pushes the
// client consumes; the realtime router parses each raw payload into one
// of these before it reaches the bus.

// NewMessagePush is the payload of "new-message-in-conversation".
type NewMessagePush struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// MessagesReadPush is the payload of "messages-marked-as-read".
type MessagesReadPush struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// UserStatusPush is the payload of "user-status-changed".
type UserStatusPush struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
