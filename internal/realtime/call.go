package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

// CallTimeout bounds every correlated call. There is no cancellation of
// the server-side effect on expiry; the call is simply abandoned.
const CallTimeout = 10 * time.Second

type callResult struct {
	data json.RawMessage
	err  error
}

// pendingCall is one in-flight correlated request.
type pendingCall struct {
	id       string
	issuedAt time.Time
	timer    *time.Timer
	done     chan callResult
}

// callRegistry maps correlation id → pending entry. Entries resolve
// exactly once, on response, timeout or context cancellation, and are
// removed on whichever branch fires first.
type callRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newCallRegistry() *callRegistry {
	return &callRegistry{pending: make(map[string]*pendingCall)}
}

func (r *callRegistry) add(id string, timeout time.Duration) *pendingCall {
	pc := &pendingCall{
		id:       id,
		issuedAt: time.Now(),
		done:     make(chan callResult, 1),
	}
	pc.timer = time.AfterFunc(timeout, func() {
		r.complete(id, nil, wire.ErrTimeout)
	})
	r.mu.Lock()
	r.pending[id] = pc
	r.mu.Unlock()
	return pc
}

// complete resolves an in-flight call. Returns false when the id is
// unknown, which happens when a late ack races a timeout.
func (r *callRegistry) complete(id string, data json.RawMessage, err error) bool {
	r.mu.Lock()
	pc, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	pc.timer.Stop()
	pc.done <- callResult{data: data, err: err}
	return true
}

func (r *callRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Call issues a correlated request over the socket channel and waits
// for the server's ack. It fails fast with wire.ErrNotConnected when
// there is no live channel. Any number of calls may be in flight at
// once; each has its own timer and resolves independently.
func (s *Session) Call(ctx context.Context, op string, payload any, out any) error {
	s.mu.RLock()
	em := s.em
	connected := s.connected
	s.mu.RUnlock()
	if !connected || em == nil {
		return wire.ErrNotConnected
	}

	id := uuid.NewString()
	pc := s.calls.add(id, s.callTimeout)

	em.Emit(op, payload, func(args []any, err error) {
		if err != nil {
			s.calls.complete(id, nil, fmt.Errorf("%s: %w", op, err))
			return
		}
		ack, ackErr := parseAck(op, args)
		if ackErr != nil {
			s.calls.complete(id, nil, ackErr)
			return
		}
		s.calls.complete(id, ack.Data, nil)
	})

	select {
	case res := <-pc.done:
		if res.err != nil {
			if res.err == wire.ErrTimeout {
				return fmt.Errorf("%s: %w", op, wire.ErrTimeout)
			}
			return res.err
		}
		if out == nil || len(res.data) == 0 {
			return nil
		}
		return wire.Decode(res.data, out)
	case <-ctx.Done():
		s.calls.complete(id, nil, ctx.Err())
		return ctx.Err()
	}
}

// parseAck interprets the raw ack arguments as a wire.Ack envelope.
func parseAck(op string, args []any) (*wire.Ack, error) {
	if len(args) == 0 || args[0] == nil {
		// Some ops ack with an empty payload.
		return &wire.Ack{Success: true}, nil
	}
	var ack wire.Ack
	if err := wire.Decode(args[0], &ack); err != nil {
		return nil, fmt.Errorf("%s: malformed ack: %w", op, err)
	}
	if !ack.Success {
		return nil, &wire.ServerError{Op: op, Message: ack.Message}
	}
	return &ack, nil
}
