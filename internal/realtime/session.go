package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/auth"
	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/status"
)

const (
	// reconnectDelay/maxReconnectAttempts implement the single reconnect
	// policy: fixed-delay retries with a bounded attempt count, counter
	// reset on a successful connect.
	reconnectDelay       = 3 * time.Second
	maxReconnectAttempts = 5

	// joinRoomTimeout bounds the room join issued right after connect.
	joinRoomTimeout = 5 * time.Second
)

// emitter abstracts the socket's emit-with-ack primitive so the
// correlated layer can be exercised without a live connection.
type emitter interface {
	Emit(op string, payload any, ack func(args []any, err error))
}

type socketEmitter struct {
	sock *socket.Socket
}

func (e socketEmitter) Emit(op string, payload any, ack func(args []any, err error)) {
	e.sock.Emit(op, payload, ack)
}

// Session owns the one duplex socket connection of the logged-in user.
// It is a process-wide singleton constructed at daemon start and shared
// by every consumer; consumers never close it, only an explicit logout
// does. Connection failures surface as the connectivity flag and the
// status machine, never as errors thrown into consumer code.
type Session struct {
	serverURL string
	tokens    auth.TokenStore
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger

	mu         sync.RWMutex
	sock       *socket.Socket
	em         emitter
	userID     string
	connected  bool
	connecting bool
	closing    bool
	attempts   int

	calls       *callRegistry
	callTimeout time.Duration
}

// NewSession creates the realtime session. It does not connect; call
// Connect once the user identity is known.
func NewSession(serverURL string, tokens auth.TokenStore, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Session {
	return &Session{
		serverURL:   serverURL,
		tokens:      tokens,
		bus:         b,
		machine:     machine,
		logger:      logger,
		calls:       newCallRegistry(),
		callTimeout: CallTimeout,
	}
}

// Connect establishes the socket connection for userID. Idempotent: a
// second call while connecting, or while connected as the same user, is
// a no-op. Connecting as a different user tears the previous channel
// down first. The in-flight guard is a boolean, not derived from
// connection state, because the state transitions are asynchronous.
func (s *Session) Connect(userID string) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return nil
	}
	if s.connected && s.userID == userID {
		s.mu.Unlock()
		return nil
	}
	prev := s.sock
	s.sock = nil
	s.em = nil
	s.connected = false
	s.connecting = true
	s.closing = false
	s.userID = userID
	s.attempts = 0
	s.mu.Unlock()

	if prev != nil {
		prev.Disconnect()
	}
	return s.dial()
}

// dial opens a fresh socket and installs the event handlers. Called
// from Connect and from the reconnect timer.
func (s *Session) dial() error {
	_ = s.machine.Transition(status.Connecting)

	token, err := s.tokens.Token()
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		_ = s.machine.Transition(status.Disconnected)
		return fmt.Errorf("realtime: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{"token": token})

	sock, err := socket.Connect(s.serverURL, opts)
	if err != nil {
		s.logger.Error("socket connect failed", zap.Error(err))
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		_ = s.machine.Transition(status.Reconnecting)
		s.scheduleReconnect()
		return fmt.Errorf("realtime: connect: %w", err)
	}

	s.mu.Lock()
	s.sock = sock
	s.em = socketEmitter{sock: sock}
	s.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		s.onConnect()
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		s.onDisconnect(reason)
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			s.logger.Warn("socket connect error", zap.Any("error", args[0]))
		}
	})

	for _, push := range []string{PushNewMessage, PushMessagesRead, PushUserStatus} {
		name := push
		sock.On(types.EventName(name), func(args ...any) {
			var raw any
			if len(args) > 0 {
				raw = args[0]
			}
			// Published synchronously so local subscribers observe pushes
			// in the order the transport delivered them.
			s.routePush(name, raw)
		})
	}

	return nil
}

func (s *Session) onConnect() {
	s.mu.Lock()
	s.connected = true
	s.connecting = false
	s.attempts = 0
	userID := s.userID
	s.mu.Unlock()

	_ = s.machine.Transition(status.Connected)
	s.logger.Info("socket connected", zap.String("user_id", userID))
	s.bus.Emit(bus.KindSessionUp, userID)

	go s.joinRoom(userID)
}

// joinRoom subscribes the connection to the per-user broadcast room so
// the server can target pushes without the client re-announcing its
// identity on every call.
func (s *Session) joinRoom(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), joinRoomTimeout)
	defer cancel()
	if err := s.Call(ctx, OpJoinUserRoom, map[string]any{"userId": userID}, nil); err != nil {
		s.logger.Warn("join user room failed", zap.Error(err), zap.String("user_id", userID))
	}
}

func (s *Session) onDisconnect(reason string) {
	s.mu.Lock()
	s.connected = false
	closing := s.closing
	s.mu.Unlock()

	s.logger.Warn("socket disconnected", zap.String("reason", reason))
	s.bus.Emit(bus.KindSessionDown, reason)

	if closing {
		_ = s.machine.Transition(status.Disconnected)
		return
	}
	_ = s.machine.Transition(status.Reconnecting)
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	if attempts > maxReconnectAttempts {
		s.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempts-1))
		_ = s.machine.Transition(status.Disconnected)
		return
	}

	s.logger.Info("scheduling reconnect", zap.Int("attempt", attempts), zap.Duration("delay", reconnectDelay))
	time.AfterFunc(reconnectDelay, func() {
		s.mu.Lock()
		if s.closing || s.connected {
			s.mu.Unlock()
			return
		}
		s.connecting = true
		prev := s.sock
		s.sock = nil
		s.em = nil
		s.mu.Unlock()

		if prev != nil {
			prev.Disconnect()
		}
		if err := s.dial(); err != nil {
			s.logger.Warn("reconnect dial failed", zap.Error(err))
		}
	})
}

// Disconnect closes the channel and clears the session identity. Only
// an explicit logout calls this; consumer teardown must not, because
// the connection outlives any single view.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closing = true
	sock := s.sock
	s.sock = nil
	s.em = nil
	s.connected = false
	s.connecting = false
	s.userID = ""
	s.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	_ = s.machine.Transition(status.Disconnected)
	s.logger.Info("socket closed")
}

// IsConnected returns whether the channel is live.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	sock := s.sock
	connected := s.connected
	s.mu.RUnlock()

	if connected {
		return true
	}
	if sock != nil && sock.Connected() {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		return true
	}
	return false
}

// UserID returns the identity the session is connected as, or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// routePush parses a raw server push and republishes it on the bus as a
// typed event.
func (s *Session) routePush(name string, raw any) {
	evt, err := parsePush(name, raw)
	if err != nil {
		s.logger.Warn("dropping malformed push", zap.String("push", name), zap.Error(err))
		return
	}
	s.bus.Publish(evt)
}
