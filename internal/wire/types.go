package wire

import "time"

// Conversation kinds as sent by the server.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Conversation is a raw conversation record as served by the conversation
// service, over either the socket channel or the REST API.
type Conversation struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	ParticipantIDs []string  `json:"participantIds"`
	Name           string    `json:"name,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	EventID        string    `json:"eventId,omitempty"`
	LastMessage    *Message  `json:"lastMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Message is a single message inside a conversation. Immutable once
// created except IsRead, which only ever flips false to true.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsRead         bool      `json:"isRead"`
}

// User is a user record from the user service.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Deleted   bool   `json:"-"`
}

// DeletedUser returns the sentinel record substituted for a participant
// whose lookup came back 404 (account removed).
func DeletedUser(id string) User {
	return User{
		ID:        id,
		FirstName: "Utilisateur",
		LastName:  "supprimé",
		Deleted:   true,
	}
}

// UnreadCount is one entry of a batch unread-counters response.
type UnreadCount struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

// UserStatus is one entry of a batch presence response.
type UserStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
