// Package convo holds the conversation list view model: the UI-ready
// projection of conversations, unread counters and presence, kept live
// by incremental deltas from the push stream.
package convo

import "time"

// State is the view model's lifecycle state.
type State string

const (
	StateEmpty   State = "EMPTY"
	StateLoading State = "LOADING"
	StateReady   State = "READY"
	StateError   State = "ERROR"
)

// Avatar kinds, in display priority order.
const (
	AvatarImage    = "image"
	AvatarIcon     = "icon"
	AvatarInitials = "initials"
)

// Avatar describes how to render a conversation's picture.
type Avatar struct {
	Kind     string
	URL      string // AvatarImage
	Icon     string // AvatarIcon, "group" or "event"
	Initials string // AvatarInitials
	Gradient string // AvatarInitials, deterministic per conversation
}

// Conversation is the projected list entry.
type Conversation struct {
	ID                 string
	Kind               string // wire.KindPrivate or wire.KindGroup
	ParticipantIDs     []string
	PeerID             string // other participant, private conversations only
	DisplayName        string
	Avatar             Avatar
	LastMessagePreview string
	LastMessageTime    time.Time // zero when no message yet
	TimeLabel          string
	UnreadCount        int
	PeerIsOnline       bool

	// sortName breaks ties between conversations with identical unread
	// and message time, last name first for private conversations.
	sortName string
}

// Snapshot is what the UI renders: the sorted list plus lifecycle state.
type Snapshot struct {
	State         State
	Err           string
	Conversations []Conversation
}
