// Package presence keeps a process-wide cache of which users are
// currently online. The cache is fed by server pushes and refreshed in
// batches on demand; a user never observed is reported offline.
package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/realtime"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

// Caller is the slice of the realtime session the tracker needs.
type Caller interface {
	IsConnected() bool
	Call(ctx context.Context, op string, payload any, out any) error
}

// Tracker maintains the online-status cache.
type Tracker struct {
	rt     Caller
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a presence tracker. Call Start to begin consuming status
// pushes.
func New(rt Caller, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		rt:     rt,
		bus:    b,
		logger: logger,
		cache:  make(map[string]bool),
	}
}

// Start subscribes to presence pushes and applies them to the cache
// until Stop or ctx cancellation.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	events, unsub := t.bus.Subscribe("presence.", 64)
	go func() {
		defer close(t.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				push, ok := evt.Payload.(wire.UserStatusPush)
				if !ok {
					continue
				}
				t.mu.Lock()
				t.cache[push.UserID] = push.IsOnline
				t.mu.Unlock()
			}
		}
	}()
}

// Stop halts the push consumer.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

// Statuses returns online flags for the given users. When the channel
// is live it refreshes the cache with one batched call first; a failed
// refresh is logged and the cached values are served instead, so
// presence never breaks a caller. Users absent from the cache are
// reported offline.
func (t *Tracker) Statuses(ctx context.Context, userIDs []string) map[string]bool {
	if len(userIDs) == 0 {
		return map[string]bool{}
	}

	if t.rt.IsConnected() {
		var fresh []wire.UserStatus
		err := t.rt.Call(ctx, realtime.OpGetUsersStatus, map[string]any{"userIds": userIDs}, &fresh)
		if err != nil {
			t.logger.Warn("presence refresh failed", zap.Error(err), zap.Int("users", len(userIDs)))
		} else {
			t.mu.Lock()
			for _, st := range fresh {
				t.cache[st.UserID] = st.IsOnline
			}
			t.mu.Unlock()
		}
	}

	out := make(map[string]bool, len(userIDs))
	t.mu.RLock()
	for _, id := range userIDs {
		out[id] = t.cache[id]
	}
	t.mu.RUnlock()
	return out
}

// IsOnline reports the cached status of a single user.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cache[userID]
}
