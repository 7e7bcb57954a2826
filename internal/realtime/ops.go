package realtime

import (
	"context"

	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

// Request/response operations exposed by the server over the socket
// channel.
const (
	OpJoinUserRoom                   = "join-user-room"
	OpCreateOrGetPrivateConversation = "create-or-get-private-conversation"
	OpCreateOrGetEventConversation   = "create-or-get-event-conversation"
	OpSendMessage                    = "send-message-to-conversation"
	OpGetConversation                = "get-conversation"
	OpGetUserConversations           = "get-user-conversations"
	OpMarkConversationRead           = "mark-conversation-as-read"
	OpGetUnreadCounts                = "get-unread-counts"
	OpGetTotalUnreadCount            = "get-total-unread-count"
	OpGetUsersStatus                 = "get-users-status"
)

// Server-initiated pushes consumed by the router.
const (
	PushNewMessage   = "new-message-in-conversation"
	PushMessagesRead = "messages-marked-as-read"
	PushUserStatus   = "user-status-changed"
)

// Conversations fetches the user's conversations over the socket channel.
func (s *Session) Conversations(ctx context.Context) ([]wire.Conversation, error) {
	var out []wire.Conversation
	if err := s.Call(ctx, OpGetUserConversations, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation fetches a single conversation by id.
func (s *Session) Conversation(ctx context.Context, id string) (*wire.Conversation, error) {
	var out wire.Conversation
	if err := s.Call(ctx, OpGetConversation, map[string]any{"conversationId": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrGetPrivateConversation resolves the one-to-one conversation
// with peerID, creating it server-side when absent.
func (s *Session) CreateOrGetPrivateConversation(ctx context.Context, peerID string) (*wire.Conversation, error) {
	var out wire.Conversation
	if err := s.Call(ctx, OpCreateOrGetPrivateConversation, map[string]any{"peerId": peerID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrGetEventConversation resolves the group conversation attached
// to a neighborhood event.
func (s *Session) CreateOrGetEventConversation(ctx context.Context, eventID string) (*wire.Conversation, error) {
	var out wire.Conversation
	if err := s.Call(ctx, OpCreateOrGetEventConversation, map[string]any{"eventId": eventID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a message to a conversation and returns the stored
// record.
func (s *Session) SendMessage(ctx context.Context, conversationID, content string) (*wire.Message, error) {
	var out wire.Message
	payload := map[string]any{"conversationId": conversationID, "content": content}
	if err := s.Call(ctx, OpSendMessage, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkConversationRead marks every message in a conversation as read
// for the current user.
func (s *Session) MarkConversationRead(ctx context.Context, conversationID string) error {
	return s.Call(ctx, OpMarkConversationRead, map[string]any{"conversationId": conversationID}, nil)
}

// UnreadCounts fetches the per-conversation unread counters in one batch.
func (s *Session) UnreadCounts(ctx context.Context) ([]wire.UnreadCount, error) {
	var out []wire.UnreadCount
	if err := s.Call(ctx, OpGetUnreadCounts, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TotalUnreadCount fetches the aggregate unread counter shown on the
// messaging tab badge.
func (s *Session) TotalUnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Total int `json:"total"`
	}
	if err := s.Call(ctx, OpGetTotalUnreadCount, nil, &out); err != nil {
		return 0, err
	}
	return out.Total, nil
}

// UsersStatus fetches online flags for a batch of users.
func (s *Session) UsersStatus(ctx context.Context, userIDs []string) ([]wire.UserStatus, error) {
	var out []wire.UserStatus
	if err := s.Call(ctx, OpGetUsersStatus, map[string]any{"userIds": userIDs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
