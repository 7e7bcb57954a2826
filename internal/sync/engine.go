// Package sync backfills conversation message history into the local
// cache so offline reads have more than the last-message previews.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/store"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

const (
	backfillPageLimit = 50
	backfillMaxConvs  = 100
)

// HistoryFetcher reads a page of a conversation's messages, REST side.
type HistoryFetcher interface {
	ConversationMessages(ctx context.Context, conversationID string, page, limit int) ([]wire.Message, error)
}

// Engine ingests message history into the store. A backfill runs after
// every successful connect; per-conversation failures are logged and do
// not stop the pass.
type Engine struct {
	db     *store.DB
	hist   HistoryFetcher
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, hist HistoryFetcher, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		hist:   hist,
		bus:    b,
		logger: logger,
	}
}

// Start triggers a backfill on every session connect.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindSessionUp, 8)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				e.Backfill(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Backfill fetches the most recent page of history for every cached
// conversation and ingests it idempotently.
func (e *Engine) Backfill(ctx context.Context) {
	convs, err := e.db.ListConversations(backfillMaxConvs, 0)
	if err != nil {
		e.logger.Error("backfill: listing cached conversations failed", zap.Error(err))
		return
	}

	total := 0
	for _, c := range convs {
		if ctx.Err() != nil {
			return
		}
		msgs, err := e.hist.ConversationMessages(ctx, c.ID, 1, backfillPageLimit)
		if err != nil {
			e.logger.Warn("backfill: history fetch failed",
				zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		if err := e.IngestBatch(c.ID, msgs); err != nil {
			e.logger.Error("backfill: ingest failed",
				zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		total += len(msgs)
	}
	if total > 0 {
		e.logger.Info("history backfill complete",
			zap.Int("conversations", len(convs)), zap.Int("messages", total))
	}
}

// IngestBatch writes a page of messages in one transaction, idempotent
// on (conversation_id, msg_id); is_read only moves towards read.
func (e *Engine) IngestBatch(conversationID string, msgs []wire.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		isRead := 0
		if m.IsRead {
			isRead = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, content, is_read, created_at, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				content = excluded.content,
				is_read = MAX(messages.is_read, excluded.is_read)`,
			conversationID, m.ID, m.SenderID, m.Content, isRead, m.CreatedAt.UnixMilli(), now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
