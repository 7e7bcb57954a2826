package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/store"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

// ConversationSender is the slice of the realtime session the outbox
// drains through.
type ConversationSender interface {
	IsConnected() bool
	SendMessage(ctx context.Context, conversationID, content string) (*wire.Message, error)
}

// Sender drains queued messages through the socket channel once it is
// live. Messages queued while offline leave in queue order.
type Sender struct {
	db     *store.DB
	rt     ConversationSender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, rt ConversationSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		rt:     rt,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	// Queued entries wait for the channel; sending them over REST would
	// bypass the server's push fan-out.
	if !s.rt.IsConnected() {
		return
	}

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		msg, err := s.rt.SendMessage(ctx, entry.ConversationID, entry.Content)
		if err != nil {
			s.logger.Error("failed to send queued message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.bus.Emit(bus.KindChatSendFailed, bus.SendReceipt{
				ClientMsgID:    entry.ClientMsgID,
				ConversationID: entry.ConversationID,
				Error:          err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		_ = s.db.UpsertMessage(&store.Message{
			ConversationID: entry.ConversationID,
			MsgID:          msg.ID,
			SenderID:       msg.SenderID,
			Content:        entry.Content,
			IsRead:         true,
			CreatedAt:      msg.CreatedAt.UnixMilli(),
		})

		s.logger.Info("queued message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", msg.ID))
		s.bus.Emit(bus.KindChatSendAck, bus.SendReceipt{
			ClientMsgID:    entry.ClientMsgID,
			ServerMsgID:    msg.ID,
			ConversationID: entry.ConversationID,
		})
	}
}
