package realtime

import (
	"fmt"
	"time"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

// parsePush converts a raw server push into a typed bus event. Unknown
// push names are an error so the caller can log and drop them.
func parsePush(name string, raw any) (bus.Event, error) {
	now := time.Now()

	switch name {
	case PushNewMessage:
		var p wire.NewMessagePush
		if err := wire.Decode(raw, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		if p.ConversationID == "" {
			p.ConversationID = p.Message.ConversationID
		}
		if p.ConversationID == "" {
			return bus.Event{}, fmt.Errorf("%s: missing conversation id", name)
		}
		return bus.Event{Kind: bus.KindChatMessage, Timestamp: now, Payload: p}, nil

	case PushMessagesRead:
		var p wire.MessagesReadPush
		if err := wire.Decode(raw, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		if p.ConversationID == "" {
			return bus.Event{}, fmt.Errorf("%s: missing conversation id", name)
		}
		return bus.Event{Kind: bus.KindChatRead, Timestamp: now, Payload: p}, nil

	case PushUserStatus:
		var p wire.UserStatusPush
		if err := wire.Decode(raw, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		if p.UserID == "" {
			return bus.Event{}, fmt.Errorf("%s: missing user id", name)
		}
		return bus.Event{Kind: bus.KindPresenceChanged, Timestamp: now, Payload: p}, nil
	}

	return bus.Event{}, fmt.Errorf("unknown push %q", name)
}
