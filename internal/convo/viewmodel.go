package convo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/store"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

const (
	// reconcileDelay is the gap between an optimistic unread increment
	// and the authoritative re-fetch that corrects it. Pushes can be
	// delivered more than once, so the local increment is a guess.
	defaultReconcileDelay = 1500 * time.Millisecond

	restPageLimit = 100
)

// Caller is the slice of the realtime session the view model uses.
type Caller interface {
	IsConnected() bool
	Conversations(ctx context.Context) ([]wire.Conversation, error)
	UnreadCounts(ctx context.Context) ([]wire.UnreadCount, error)
	SendMessage(ctx context.Context, conversationID, content string) (*wire.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Fetcher is the REST fallback surface.
type Fetcher interface {
	ListFriends(ctx context.Context) ([]wire.User, error)
	GetUser(ctx context.Context, id string) (*wire.User, error)
	ListConversations(ctx context.Context, page, limit int) ([]wire.Conversation, error)
	UnreadCounts(ctx context.Context) ([]wire.UnreadCount, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Presence resolves batch online status, tolerating a dead channel.
type Presence interface {
	Statuses(ctx context.Context, userIDs []string) map[string]bool
}

// ViewModel owns the in-memory conversation collection. It is the only
// writer; the UI reads through Snapshot. Deltas from the push stream
// are folded in place, full loads replace the collection, and a load
// sequence number discards completions that a newer load has overtaken.
type ViewModel struct {
	selfID   string
	rt       Caller
	rest     Fetcher
	presence Presence
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.RWMutex
	state   State
	errMsg  string
	items   []Conversation
	loadSeq int

	reconcileDelay time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the view model. db may be nil to disable the local cache.
func New(selfID string, rt Caller, rest Fetcher, presence Presence, db *store.DB, b *bus.Bus, logger *zap.Logger) *ViewModel {
	return &ViewModel{
		selfID:         selfID,
		rt:             rt,
		rest:           rest,
		presence:       presence,
		db:             db,
		bus:            b,
		logger:         logger,
		state:          StateEmpty,
		reconcileDelay: defaultReconcileDelay,
	}
}

// Snapshot returns the current state and a copy of the sorted list.
func (vm *ViewModel) Snapshot() Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := Snapshot{State: vm.state, Err: vm.errMsg}
	out.Conversations = make([]Conversation, len(vm.items))
	copy(out.Conversations, vm.items)
	return out
}

// Hydrate populates the list from the local cache so a cold start has
// something to render before the first network load.
func (vm *ViewModel) Hydrate() {
	if vm.db == nil {
		return
	}
	rows, err := vm.db.ListConversations(restPageLimit, 0)
	if err != nil {
		vm.logger.Warn("cache hydrate failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	items := make([]Conversation, 0, len(rows))
	now := time.Now()
	for _, r := range rows {
		c := Conversation{
			ID:                 r.ID,
			Kind:               r.Kind,
			ParticipantIDs:     r.ParticipantIDs,
			PeerID:             r.PeerID,
			DisplayName:        r.DisplayName,
			LastMessagePreview: r.LastMessagePreview,
			UnreadCount:        r.UnreadCount,
			sortName:           r.DisplayName,
		}
		if r.LastMessageAt > 0 {
			c.LastMessageTime = time.UnixMilli(r.LastMessageAt)
			c.TimeLabel = timeLabel(c.LastMessageTime, now)
		} else {
			c.LastMessagePreview = noMessagePlaceholder
		}
		c.Avatar = Avatar{Kind: AvatarInitials, Initials: initials(c.DisplayName), Gradient: gradientFor(c.ID)}
		items = append(items, c)
	}
	sortConversations(items)

	vm.mu.Lock()
	if vm.state == StateEmpty {
		vm.items = items
		vm.state = StateReady
	}
	vm.mu.Unlock()
	vm.logger.Info("hydrated conversation list from cache", zap.Int("conversations", len(items)))
}

// Load runs the full load pipeline and installs the result, unless a
// newer load finished first.
func (vm *ViewModel) Load(ctx context.Context) {
	vm.mu.Lock()
	vm.loadSeq++
	seq := vm.loadSeq
	vm.state = StateLoading
	vm.errMsg = ""
	vm.mu.Unlock()

	items, err := vm.buildList(ctx)

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if seq != vm.loadSeq {
		// A newer load owns the state now.
		return
	}
	if err != nil {
		vm.state = StateError
		vm.errMsg = err.Error()
		vm.logger.Error("conversation load failed", zap.Error(err))
		return
	}
	vm.items = items
	vm.state = StateReady
	vm.persistAllLocked()
	vm.bus.Emit(bus.KindChatListUpdated, nil)
}

// Retry re-runs the load after a failure.
func (vm *ViewModel) Retry(ctx context.Context) {
	vm.Load(ctx)
}

// buildList executes the load pipeline: conversations with a per-load
// REST double-fallback, batched unread counts, participant resolution
// with per-item isolation, batched presence, projection, merge of
// friends without a conversation, sort.
func (vm *ViewModel) buildList(ctx context.Context) ([]Conversation, error) {
	raw, err := vm.fetchConversations(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := vm.fetchUnreadCounts(ctx)
	if err != nil {
		return nil, err
	}

	friends, err := vm.rest.ListFriends(ctx)
	if err != nil {
		return nil, err
	}
	users := make(map[string]wire.User, len(friends))
	for _, f := range friends {
		users[f.ID] = f
	}

	// Resolve participants that are not friends, one lookup each. A
	// deleted user renders as a sentinel entry instead of failing the
	// whole load; any other lookup failure is logged and skipped.
	for _, c := range raw {
		for _, id := range c.ParticipantIDs {
			if id == vm.selfID {
				continue
			}
			if _, known := users[id]; known {
				continue
			}
			u, err := vm.rest.GetUser(ctx, id)
			switch {
			case errors.Is(err, wire.ErrNotFound):
				users[id] = wire.DeletedUser(id)
			case err != nil:
				vm.logger.Warn("participant lookup failed", zap.String("user_id", id), zap.Error(err))
				users[id] = wire.User{ID: id}
			default:
				users[id] = *u
			}
		}
	}

	peerIDs := make([]string, 0, len(users))
	for id := range users {
		peerIDs = append(peerIDs, id)
	}
	online := vm.presence.Statuses(ctx, peerIDs)

	now := time.Now()
	items := make([]Conversation, 0, len(raw)+len(friends))
	covered := make(map[string]bool)
	for _, rc := range raw {
		c := project(rc, users, vm.selfID, now)
		c.UnreadCount = counts[rc.ID]
		if c.PeerID != "" {
			c.PeerIsOnline = online[c.PeerID]
			covered[c.PeerID] = true
		}
		items = append(items, c)
	}

	// Friends without a conversation still get a list entry, so the
	// user can start chatting from the same screen.
	for _, f := range friends {
		if covered[f.ID] {
			continue
		}
		items = append(items, friendPlaceholder(f, online[f.ID]))
	}

	sortConversations(items)
	return items, nil
}

// fetchConversations prefers the socket channel and falls back to REST,
// including when the socket call itself fails mid-load.
func (vm *ViewModel) fetchConversations(ctx context.Context) ([]wire.Conversation, error) {
	if vm.rt.IsConnected() {
		raw, err := vm.rt.Conversations(ctx)
		if err == nil {
			return raw, nil
		}
		vm.logger.Warn("realtime conversation fetch failed, falling back to http", zap.Error(err))
	}
	return vm.rest.ListConversations(ctx, 1, restPageLimit)
}

func (vm *ViewModel) fetchUnreadCounts(ctx context.Context) (map[string]int, error) {
	var (
		counts []wire.UnreadCount
		err    error
	)
	if vm.rt.IsConnected() {
		counts, err = vm.rt.UnreadCounts(ctx)
	}
	if !vm.rt.IsConnected() || err != nil {
		if err != nil {
			vm.logger.Warn("realtime unread fetch failed, falling back to http", zap.Error(err))
		}
		counts, err = vm.rest.UnreadCounts(ctx)
		if err != nil {
			return nil, err
		}
	}
	out := make(map[string]int, len(counts))
	for _, uc := range counts {
		out[uc.ConversationID] = uc.Count
	}
	return out, nil
}

func friendPlaceholder(f wire.User, isOnline bool) Conversation {
	name := displayName(wire.Conversation{Kind: wire.KindPrivate}, f)
	return Conversation{
		ID:                 "friend:" + f.ID,
		Kind:               wire.KindPrivate,
		ParticipantIDs:     []string{f.ID},
		PeerID:             f.ID,
		DisplayName:        name,
		Avatar:             avatar(wire.Conversation{Kind: wire.KindPrivate, ID: "friend:" + f.ID}, f, name),
		LastMessagePreview: noMessagePlaceholder,
		UnreadCount:        0,
		PeerIsOnline:       isOnline,
		sortName:           sortName(wire.Conversation{Kind: wire.KindPrivate}, f),
	}
}

// SendMessage sends over the socket channel when connected; otherwise
// the message is queued in the outbox and flows out on reconnect.
// Returns the client message id for queued sends, "" otherwise.
func (vm *ViewModel) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	if vm.rt.IsConnected() {
		msg, err := vm.rt.SendMessage(ctx, conversationID, content)
		if err != nil {
			return "", err
		}
		vm.applyOwnMessage(conversationID, msg)
		return "", nil
	}

	if vm.db == nil {
		return "", wire.ErrNotConnected
	}
	clientID := uuid.NewString()
	if err := vm.db.QueueOutbox(clientID, conversationID, content); err != nil {
		return "", err
	}
	vm.bus.Emit(bus.KindChatQueued, clientID)
	vm.logger.Info("message queued for later delivery",
		zap.String("client_msg_id", clientID),
		zap.String("conversation_id", conversationID))
	return clientID, nil
}

// MarkRead zeroes the local counter immediately and tells the server,
// over the channel when live, over HTTP otherwise.
func (vm *ViewModel) MarkRead(ctx context.Context, conversationID string) error {
	vm.mu.Lock()
	if c := vm.findLocked(conversationID); c != nil {
		c.UnreadCount = 0
		sortConversations(vm.items)
		vm.persistOneLocked(conversationID)
	}
	vm.mu.Unlock()

	if vm.rt.IsConnected() {
		return vm.rt.MarkConversationRead(ctx, conversationID)
	}
	return vm.rest.MarkConversationRead(ctx, conversationID)
}

// Start consumes bus events until ctx cancellation or Stop. A session
// reconnect triggers a full reload to catch up on anything missed while
// offline.
func (vm *ViewModel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	vm.cancel = cancel
	vm.done = make(chan struct{})

	chat, unsubChat := vm.bus.Subscribe("chat.", 128)
	pres, unsubPres := vm.bus.Subscribe("presence.", 128)
	sess, unsubSess := vm.bus.Subscribe("session.", 16)

	go func() {
		defer close(vm.done)
		defer unsubChat()
		defer unsubPres()
		defer unsubSess()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-chat:
				switch evt.Kind {
				case bus.KindChatMessage:
					if p, ok := evt.Payload.(wire.NewMessagePush); ok {
						vm.applyNewMessage(ctx, p)
					}
				case bus.KindChatRead:
					if p, ok := evt.Payload.(wire.MessagesReadPush); ok {
						vm.applyRead(p)
					}
				}
			case evt := <-pres:
				if p, ok := evt.Payload.(wire.UserStatusPush); ok {
					vm.applyPresence(p)
				}
			case evt := <-sess:
				if evt.Kind == bus.KindSessionUp {
					go vm.Load(ctx)
				}
			}
		}
	}()
}

// Stop halts the event consumer.
func (vm *ViewModel) Stop() {
	if vm.cancel != nil {
		vm.cancel()
		<-vm.done
	}
}

// applyNewMessage folds an incoming message push into the list: update
// the preview, bump unread when someone else wrote, move the entry to
// the front, then schedule the authoritative unread re-fetch. An
// unknown conversation means a brand new one; that needs a full reload.
func (vm *ViewModel) applyNewMessage(ctx context.Context, p wire.NewMessagePush) {
	vm.mu.Lock()
	c := vm.findLocked(p.ConversationID)
	if c == nil {
		vm.mu.Unlock()
		vm.logger.Info("push for unknown conversation, reloading", zap.String("conversation_id", p.ConversationID))
		vm.Load(ctx)
		return
	}
	now := time.Now()
	c.LastMessagePreview = p.Message.Content
	c.LastMessageTime = p.Message.CreatedAt
	if c.LastMessageTime.IsZero() {
		c.LastMessageTime = now
	}
	c.TimeLabel = timeLabel(c.LastMessageTime, now)
	if p.Message.SenderID != vm.selfID {
		c.UnreadCount++
	}
	sortConversations(vm.items)
	vm.persistOneLocked(p.ConversationID)
	vm.persistMessage(p)
	vm.mu.Unlock()

	vm.bus.Emit(bus.KindChatListUpdated, nil)
	time.AfterFunc(vm.reconcileDelay, func() {
		vm.reconcileUnread(p.ConversationID)
	})
}

// applyOwnMessage updates the entry after a successful local send. No
// unread change, the author has read their own message.
func (vm *ViewModel) applyOwnMessage(conversationID string, msg *wire.Message) {
	vm.mu.Lock()
	if c := vm.findLocked(conversationID); c != nil {
		now := time.Now()
		c.LastMessagePreview = msg.Content
		c.LastMessageTime = msg.CreatedAt
		if c.LastMessageTime.IsZero() {
			c.LastMessageTime = now
		}
		c.TimeLabel = timeLabel(c.LastMessageTime, now)
		sortConversations(vm.items)
		vm.persistOneLocked(conversationID)
	}
	vm.mu.Unlock()
	vm.bus.Emit(bus.KindChatListUpdated, nil)
}

// reconcileUnread replaces the optimistic counter with the server's
// value. Duplicate pushes over-count; the re-fetch wins.
func (vm *ViewModel) reconcileUnread(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := vm.fetchUnreadCounts(ctx)
	if err != nil {
		vm.logger.Warn("unread reconciliation failed", zap.Error(err))
		return
	}

	vm.mu.Lock()
	if c := vm.findLocked(conversationID); c != nil && c.UnreadCount != counts[conversationID] {
		c.UnreadCount = counts[conversationID]
		sortConversations(vm.items)
		vm.persistOneLocked(conversationID)
	}
	vm.mu.Unlock()
	vm.bus.Emit(bus.KindChatListUpdated, nil)
}

// applyRead zeroes the counter for a read receipt. Applying the same
// receipt twice is a no-op.
func (vm *ViewModel) applyRead(p wire.MessagesReadPush) {
	vm.mu.Lock()
	if c := vm.findLocked(p.ConversationID); c != nil && c.UnreadCount != 0 {
		c.UnreadCount = 0
		sortConversations(vm.items)
		vm.persistOneLocked(p.ConversationID)
	}
	vm.mu.Unlock()
	vm.bus.Emit(bus.KindChatListUpdated, nil)
}

// applyPresence flips the online flag in place. Presence does not
// affect sort order, so no resort.
func (vm *ViewModel) applyPresence(p wire.UserStatusPush) {
	vm.mu.Lock()
	for i := range vm.items {
		if vm.items[i].PeerID == p.UserID {
			vm.items[i].PeerIsOnline = p.IsOnline
		}
	}
	vm.mu.Unlock()
}

// findLocked returns the entry with the given id. Caller holds vm.mu.
func (vm *ViewModel) findLocked(id string) *Conversation {
	for i := range vm.items {
		if vm.items[i].ID == id {
			return &vm.items[i]
		}
	}
	return nil
}

func (vm *ViewModel) persistAllLocked() {
	if vm.db == nil {
		return
	}
	for i := range vm.items {
		vm.persistRow(&vm.items[i])
	}
}

func (vm *ViewModel) persistOneLocked(id string) {
	if vm.db == nil {
		return
	}
	if c := vm.findLocked(id); c != nil {
		vm.persistRow(c)
	}
}

func (vm *ViewModel) persistRow(c *Conversation) {
	preview := c.LastMessagePreview
	if preview == noMessagePlaceholder {
		preview = ""
	}
	row := &store.Conversation{
		ID:                 c.ID,
		Kind:               c.Kind,
		DisplayName:        c.DisplayName,
		ParticipantIDs:     c.ParticipantIDs,
		PeerID:             c.PeerID,
		LastMessagePreview: preview,
		UnreadCount:        c.UnreadCount,
	}
	if !c.LastMessageTime.IsZero() {
		row.LastMessageAt = c.LastMessageTime.UnixMilli()
	}
	if err := vm.db.UpsertConversation(row); err != nil {
		vm.logger.Warn("cache write failed", zap.String("conversation_id", c.ID), zap.Error(err))
	}
}

func (vm *ViewModel) persistMessage(p wire.NewMessagePush) {
	if vm.db == nil || p.Message.ID == "" {
		return
	}
	row := &store.Message{
		ConversationID: p.ConversationID,
		MsgID:          p.Message.ID,
		SenderID:       p.Message.SenderID,
		Content:        p.Message.Content,
		IsRead:         p.Message.IsRead,
		CreatedAt:      p.Message.CreatedAt.UnixMilli(),
	}
	if err := vm.db.UpsertMessage(row); err != nil {
		vm.logger.Warn("message cache write failed", zap.Error(err))
	}
}
