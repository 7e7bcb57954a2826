package convo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

const self = "me"

type fakeRT struct {
	mu          sync.Mutex
	connected   bool
	convs       []wire.Conversation
	convErr     error
	counts      map[string]int
	countsErr   error
	countsCalls int
	sent        []string
	sendErr     error
}

func (f *fakeRT) IsConnected() bool { return f.connected }

func (f *fakeRT) Conversations(ctx context.Context) ([]wire.Conversation, error) {
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.convs, nil
}

func (f *fakeRT) UnreadCounts(ctx context.Context) ([]wire.UnreadCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countsCalls++
	if f.countsErr != nil {
		return nil, f.countsErr
	}
	out := make([]wire.UnreadCount, 0, len(f.counts))
	for id, n := range f.counts {
		out = append(out, wire.UnreadCount{ConversationID: id, Count: n})
	}
	return out, nil
}

func (f *fakeRT) SendMessage(ctx context.Context, conversationID, content string) (*wire.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, content)
	f.mu.Unlock()
	return &wire.Message{ID: "srv-1", ConversationID: conversationID, SenderID: self, Content: content, CreatedAt: time.Now()}, nil
}

func (f *fakeRT) MarkConversationRead(ctx context.Context, conversationID string) error {
	return nil
}

func (f *fakeRT) setCounts(counts map[string]int) {
	f.mu.Lock()
	f.counts = counts
	f.mu.Unlock()
}

type fakeRest struct {
	friends    []wire.User
	users      map[string]wire.User
	missing    map[string]bool
	lookupErr  map[string]error
	convs      []wire.Conversation
	counts     map[string]int
	friendsErr error
	readCalls  int
}

func (f *fakeRest) ListFriends(ctx context.Context) ([]wire.User, error) {
	if f.friendsErr != nil {
		return nil, f.friendsErr
	}
	return f.friends, nil
}

func (f *fakeRest) GetUser(ctx context.Context, id string) (*wire.User, error) {
	if f.missing[id] {
		return nil, wire.ErrNotFound
	}
	if err := f.lookupErr[id]; err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, wire.ErrNotFound
	}
	return &u, nil
}

func (f *fakeRest) ListConversations(ctx context.Context, page, limit int) ([]wire.Conversation, error) {
	return f.convs, nil
}

func (f *fakeRest) UnreadCounts(ctx context.Context) ([]wire.UnreadCount, error) {
	out := make([]wire.UnreadCount, 0, len(f.counts))
	for id, n := range f.counts {
		out = append(out, wire.UnreadCount{ConversationID: id, Count: n})
	}
	return out, nil
}

func (f *fakeRest) MarkConversationRead(ctx context.Context, conversationID string) error {
	f.readCalls++
	return nil
}

type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) Statuses(ctx context.Context, userIDs []string) map[string]bool {
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = f.online[id]
	}
	return out
}

func privateConv(id, peer string, lastContent string, lastAt time.Time) wire.Conversation {
	c := wire.Conversation{
		ID:             id,
		Kind:           wire.KindPrivate,
		ParticipantIDs: []string{self, peer},
	}
	if lastContent != "" {
		c.LastMessage = &wire.Message{
			ID:             "m-" + id,
			ConversationID: id,
			SenderID:       peer,
			Content:        lastContent,
			CreatedAt:      lastAt,
		}
	}
	return c
}

func newVM(rt *fakeRT, rest *fakeRest, pres *fakePresence) *ViewModel {
	vm := New(self, rt, rest, pres, nil, bus.New(), zap.NewNop())
	vm.reconcileDelay = 30 * time.Millisecond
	return vm
}

func checkSorted(t *testing.T, items []Conversation) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		if less(&items[i], &items[i-1]) {
			t.Fatalf("sort invariant broken at %d: %q before %q", i, items[i-1].ID, items[i].ID)
		}
	}
}

func TestLoadThreeFriendsOneWithoutConversation(t *testing.T) {
	now := time.Now()
	rt := &fakeRT{
		connected: true,
		convs: []wire.Conversation{
			privateConv("c1", "u-marie", "salut", now.Add(-10*time.Minute)),
			privateConv("c2", "u-paul", "à demain", now.Add(-2*time.Hour)),
		},
		counts: map[string]int{"c1": 2, "c2": 0},
	}
	rest := &fakeRest{
		friends: []wire.User{
			{ID: "u-marie", FirstName: "Marie", LastName: "Dubois"},
			{ID: "u-paul", FirstName: "Paul", LastName: "Martin"},
			{ID: "u-zoe", FirstName: "Zoé", LastName: "Bernard"},
		},
	}
	vm := newVM(rt, rest, &fakePresence{online: map[string]bool{"u-marie": true}})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s, err = %q", snap.State, snap.Err)
	}
	if len(snap.Conversations) != 3 {
		t.Fatalf("got %d entries, want 3", len(snap.Conversations))
	}
	checkSorted(t, snap.Conversations)

	// Unread-first puts Marie on top, then Paul by recency, then the
	// friend without a conversation.
	if snap.Conversations[0].ID != "c1" || snap.Conversations[1].ID != "c2" {
		t.Fatalf("order = %q, %q", snap.Conversations[0].ID, snap.Conversations[1].ID)
	}

	placeholder := snap.Conversations[2]
	if placeholder.PeerID != "u-zoe" {
		t.Fatalf("placeholder peer = %q", placeholder.PeerID)
	}
	if placeholder.LastMessagePreview != "Aucun message" {
		t.Fatalf("placeholder preview = %q", placeholder.LastMessagePreview)
	}
	if placeholder.UnreadCount != 0 {
		t.Fatalf("placeholder unread = %d", placeholder.UnreadCount)
	}
	if !snap.Conversations[0].PeerIsOnline {
		t.Fatal("marie should be online")
	}
}

func TestFriendsWithoutConversationOrderByLastName(t *testing.T) {
	rt := &fakeRT{connected: true, counts: map[string]int{}}
	rest := &fakeRest{
		friends: []wire.User{
			{ID: "u1", FirstName: "Anne", LastName: "Moreau"},
			{ID: "u2", FirstName: "Luc", LastName: "Bernard"},
			{ID: "u3", FirstName: "Emma", LastName: "Garnier"},
		},
	}
	vm := newVM(rt, rest, &fakePresence{})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	var names []string
	for _, c := range snap.Conversations {
		names = append(names, c.DisplayName)
	}
	want := []string{"Luc Bernard", "Emma Garnier", "Anne Moreau"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestLoadFallsBackToRestWhenRealtimeFails(t *testing.T) {
	now := time.Now()
	rt := &fakeRT{
		connected: true,
		convErr:   errors.New("channel hiccup"),
		counts:    map[string]int{"c1": 1},
	}
	rest := &fakeRest{
		convs:   []wire.Conversation{privateConv("c1", "u1", "bonjour", now)},
		friends: []wire.User{{ID: "u1", FirstName: "Jean", LastName: "Petit"}},
	}
	vm := newVM(rt, rest, &fakePresence{})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s, err = %q", snap.State, snap.Err)
	}
	if len(snap.Conversations) != 1 || snap.Conversations[0].ID != "c1" {
		t.Fatalf("conversations = %+v", snap.Conversations)
	}
}

func TestLoadUsesRestWhenDisconnected(t *testing.T) {
	rt := &fakeRT{connected: false}
	rest := &fakeRest{
		convs:   []wire.Conversation{privateConv("c1", "u1", "hello", time.Now())},
		friends: []wire.User{{ID: "u1", FirstName: "Jean", LastName: "Petit"}},
		counts:  map[string]int{"c1": 3},
	}
	vm := newVM(rt, rest, &fakePresence{online: map[string]bool{"u1": true}})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s", snap.State)
	}
	if snap.Conversations[0].UnreadCount != 3 {
		t.Fatalf("unread = %d, want 3", snap.Conversations[0].UnreadCount)
	}
	// Presence while disconnected stays offline regardless of cache
	// priming elsewhere; here the fake reports online, which stands in
	// for the tracker's cached value.
}

func TestDeletedParticipantRendersSentinel(t *testing.T) {
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u-gone", "au revoir", time.Now())},
		counts:    map[string]int{},
	}
	rest := &fakeRest{missing: map[string]bool{"u-gone": true}}
	vm := newVM(rt, rest, &fakePresence{})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s, err = %q", snap.State, snap.Err)
	}
	if got := snap.Conversations[0].DisplayName; got != "Utilisateur supprimé" {
		t.Fatalf("display name = %q", got)
	}
}

func TestLookupFailureIsIsolated(t *testing.T) {
	now := time.Now()
	rt := &fakeRT{
		connected: true,
		convs: []wire.Conversation{
			privateConv("c1", "u-ok", "ça va ?", now),
			privateConv("c2", "u-broken", "...", now.Add(-time.Minute)),
		},
		counts: map[string]int{},
	}
	rest := &fakeRest{
		users:     map[string]wire.User{"u-ok": {ID: "u-ok", FirstName: "Nina", LastName: "Roux"}},
		lookupErr: map[string]error{"u-broken": errors.New("boom")},
	}
	vm := newVM(rt, rest, &fakePresence{})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s, err = %q", snap.State, snap.Err)
	}
	if len(snap.Conversations) != 2 {
		t.Fatalf("got %d entries, want 2", len(snap.Conversations))
	}
}

func TestPresenceBatchFailureStillRenders(t *testing.T) {
	// The tracker swallows a failed batch and serves defaults; the view
	// model sees every peer offline and must not error.
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "salut", time.Now())},
		counts:    map[string]int{},
	}
	rest := &fakeRest{friends: []wire.User{{ID: "u1", FirstName: "Jean", LastName: "Petit"}}}
	vm := newVM(rt, rest, &fakePresence{})

	vm.Load(context.Background())

	snap := vm.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %s", snap.State)
	}
	if snap.Conversations[0].PeerIsOnline {
		t.Fatal("peer should default to offline")
	}
}

func TestLoadErrorStateAndRetry(t *testing.T) {
	rt := &fakeRT{connected: true, convs: nil, counts: map[string]int{}}
	rest := &fakeRest{friendsErr: errors.New("api down")}
	vm := newVM(rt, rest, &fakePresence{})

	vm.Load(context.Background())
	snap := vm.Snapshot()
	if snap.State != StateError || snap.Err == "" {
		t.Fatalf("state = %s, err = %q", snap.State, snap.Err)
	}

	rest.friendsErr = nil
	vm.Retry(context.Background())
	if snap := vm.Snapshot(); snap.State != StateReady {
		t.Fatalf("state after retry = %s", snap.State)
	}
}

func TestNewMessageIncrementsAndMovesToFront(t *testing.T) {
	now := time.Now()
	rt := &fakeRT{
		connected: true,
		convs: []wire.Conversation{
			privateConv("c1", "u1", "recent", now),
			privateConv("c2", "u2", "older", now.Add(-time.Hour)),
		},
		counts: map[string]int{"c1": 0, "c2": 0},
	}
	rest := &fakeRest{
		users: map[string]wire.User{
			"u1": {ID: "u1", FirstName: "A", LastName: "A"},
			"u2": {ID: "u2", FirstName: "B", LastName: "B"},
		},
	}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	before := vm.Snapshot().Conversations
	if before[0].ID != "c1" {
		t.Fatalf("precondition: front = %q", before[0].ID)
	}

	rt.setCounts(map[string]int{"c1": 0, "c2": 1})
	vm.applyNewMessage(context.Background(), wire.NewMessagePush{
		ConversationID: "c2",
		Message:        wire.Message{ID: "m9", ConversationID: "c2", SenderID: "u2", Content: "nouveau", CreatedAt: time.Now()},
	})

	snap := vm.Snapshot()
	checkSorted(t, snap.Conversations)
	if snap.Conversations[0].ID != "c2" {
		t.Fatalf("front = %q, want c2", snap.Conversations[0].ID)
	}
	if got := snap.Conversations[0].UnreadCount; got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
	if got := snap.Conversations[0].LastMessagePreview; got != "nouveau" {
		t.Fatalf("preview = %q", got)
	}
}

func TestOwnMessageDoesNotIncrementUnread(t *testing.T) {
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "x", time.Now())},
		counts:    map[string]int{"c1": 0},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}}}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	vm.applyNewMessage(context.Background(), wire.NewMessagePush{
		ConversationID: "c1",
		Message:        wire.Message{ID: "m1", SenderID: self, Content: "de moi", CreatedAt: time.Now()},
	})

	if got := vm.Snapshot().Conversations[0].UnreadCount; got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
}

func TestDuplicatePushReconciledByAuthoritativeFetch(t *testing.T) {
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "x", time.Now())},
		counts:    map[string]int{"c1": 0},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}}}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	// The server counts one unread message; the push arrives twice.
	rt.setCounts(map[string]int{"c1": 1})
	push := wire.NewMessagePush{
		ConversationID: "c1",
		Message:        wire.Message{ID: "m1", SenderID: "u1", Content: "dup", CreatedAt: time.Now()},
	}
	vm.applyNewMessage(context.Background(), push)
	vm.applyNewMessage(context.Background(), push)

	if got := vm.Snapshot().Conversations[0].UnreadCount; got != 2 {
		t.Fatalf("optimistic unread = %d, want 2", got)
	}

	deadline := time.After(2 * time.Second)
	for vm.Snapshot().Conversations[0].UnreadCount != 1 {
		select {
		case <-deadline:
			t.Fatalf("unread = %d, never reconciled to 1", vm.Snapshot().Conversations[0].UnreadCount)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewMessageForUnknownConversationReloads(t *testing.T) {
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "x", time.Now())},
		counts:    map[string]int{"c1": 0},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}}}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	rt.convs = append(rt.convs, privateConv("c-new", "u2", "première", time.Now()))
	rest.users["u2"] = wire.User{ID: "u2", FirstName: "New", LastName: "Peer"}
	vm.applyNewMessage(context.Background(), wire.NewMessagePush{
		ConversationID: "c-new",
		Message:        wire.Message{ID: "m1", SenderID: "u2", Content: "première", CreatedAt: time.Now()},
	})

	snap := vm.Snapshot()
	if len(snap.Conversations) != 2 {
		t.Fatalf("got %d entries after reload, want 2", len(snap.Conversations))
	}
}

func TestReadReceiptZeroesAndIsIdempotent(t *testing.T) {
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "x", time.Now())},
		counts:    map[string]int{"c1": 4},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}}}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	receipt := wire.MessagesReadPush{ConversationID: "c1", ReaderID: self}
	vm.applyRead(receipt)
	first := vm.Snapshot()
	if got := first.Conversations[0].UnreadCount; got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}

	vm.applyRead(receipt)
	second := vm.Snapshot()
	if len(second.Conversations) != len(first.Conversations) {
		t.Fatal("second receipt changed the list")
	}
	if got := second.Conversations[0].UnreadCount; got != 0 {
		t.Fatalf("unread after duplicate = %d, want 0", got)
	}
	checkSorted(t, second.Conversations)
}

func TestPresenceUpdateInPlaceNoResort(t *testing.T) {
	now := time.Now()
	rt := &fakeRT{
		connected: true,
		convs: []wire.Conversation{
			privateConv("c1", "u1", "a", now),
			privateConv("c2", "u2", "b", now.Add(-time.Minute)),
		},
		counts: map[string]int{},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}, "u2": {ID: "u2"}}}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	beforeOrder := []string{vm.Snapshot().Conversations[0].ID, vm.Snapshot().Conversations[1].ID}
	vm.applyPresence(wire.UserStatusPush{UserID: "u2", IsOnline: true})

	snap := vm.Snapshot()
	if snap.Conversations[0].ID != beforeOrder[0] || snap.Conversations[1].ID != beforeOrder[1] {
		t.Fatal("presence change must not resort")
	}
	for _, c := range snap.Conversations {
		if c.PeerID == "u2" && !c.PeerIsOnline {
			t.Fatal("u2 should be online")
		}
	}
}

func TestStaleLoadCompletionDiscarded(t *testing.T) {
	rt := &fakeRT{connected: true, counts: map[string]int{}}
	rest := &fakeRest{friends: []wire.User{{ID: "u1", FirstName: "A", LastName: "B"}}}
	vm := newVM(rt, rest, &fakePresence{})

	// Simulate an old load finishing after a newer one started.
	vm.mu.Lock()
	vm.loadSeq = 5
	vm.mu.Unlock()

	vm.mu.Lock()
	seq := 3
	stale := []Conversation{{ID: "stale"}}
	if seq == vm.loadSeq {
		vm.items = stale
	}
	vm.mu.Unlock()

	vm.Load(context.Background())
	snap := vm.Snapshot()
	for _, c := range snap.Conversations {
		if c.ID == "stale" {
			t.Fatal("stale load result installed")
		}
	}
}

func TestSendMessageConnected(t *testing.T) {
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "x", time.Now().Add(-time.Hour))},
		counts:    map[string]int{},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}}}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	clientID, err := vm.SendMessage(context.Background(), "c1", "bonsoir")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if clientID != "" {
		t.Fatalf("clientID = %q, want empty for direct send", clientID)
	}
	if got := vm.Snapshot().Conversations[0].LastMessagePreview; got != "bonsoir" {
		t.Fatalf("preview = %q", got)
	}
}

func TestMarkReadZeroesLocallyAndCallsServer(t *testing.T) {
	rt := &fakeRT{
		connected: false,
		counts:    map[string]int{},
	}
	rest := &fakeRest{
		convs:  []wire.Conversation{privateConv("c1", "u1", "x", time.Now())},
		counts: map[string]int{"c1": 7},
		users:  map[string]wire.User{"u1": {ID: "u1"}},
	}
	vm := newVM(rt, rest, &fakePresence{})
	vm.Load(context.Background())

	if err := vm.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := vm.Snapshot().Conversations[0].UnreadCount; got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
	if rest.readCalls != 1 {
		t.Fatalf("rest read calls = %d, want 1", rest.readCalls)
	}
}

func TestStartAppliesBusEvents(t *testing.T) {
	b := bus.New()
	rt := &fakeRT{
		connected: true,
		convs:     []wire.Conversation{privateConv("c1", "u1", "x", time.Now())},
		counts:    map[string]int{"c1": 0},
	}
	rest := &fakeRest{users: map[string]wire.User{"u1": {ID: "u1"}}}
	vm := New(self, rt, rest, &fakePresence{}, nil, b, zap.NewNop())
	vm.reconcileDelay = 30 * time.Millisecond
	vm.Load(context.Background())

	vm.Start(context.Background())
	defer vm.Stop()

	b.Emit(bus.KindChatMessage, wire.NewMessagePush{
		ConversationID: "c1",
		Message:        wire.Message{ID: "m1", SenderID: "u1", Content: "via bus", CreatedAt: time.Now()},
	})

	deadline := time.After(2 * time.Second)
	for vm.Snapshot().Conversations[0].LastMessagePreview != "via bus" {
		select {
		case <-deadline:
			t.Fatal("bus event never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
