package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace
// prefix ("chat.", "presence.", "session.").
const (
	KindChatMessage     = "chat.message"      // payload wire.NewMessagePush
	KindChatRead        = "chat.read"         // payload wire.MessagesReadPush
	KindChatListUpdated = "chat.list_updated" // payload nil
	KindChatQueued      = "chat.queued"       // payload client message id
	KindChatSendAck     = "chat.send_ack"     // payload SendReceipt
	KindChatSendFailed  = "chat.send_failed"  // payload SendReceipt
	KindPresenceChanged = "presence.changed"  // payload wire.UserStatusPush
	KindSessionStatus   = "session.status_changed"
	KindSessionUp       = "session.connected"
	KindSessionDown     = "session.disconnected"
)

// Event represents a domain event published on the bus. Payloads are a
// closed set of typed records; consumers switch on Kind.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// SendReceipt is the payload for outbox send acknowledgements.
type SendReceipt struct {
	ClientMsgID    string
	ServerMsgID    string
	ConversationID string
	Error          string
}
