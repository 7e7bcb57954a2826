package realtime

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/francois95140/MonVoisin3000-sub000/internal/bus"
	"github.com/francois95140/MonVoisin3000-sub000/internal/status"
	"github.com/francois95140/MonVoisin3000-sub000/internal/wire"
)

type failingTokens struct{}

func (failingTokens) Token() (string, error) { return "", errors.New("no token") }
func (failingTokens) SetToken(string) error  { return nil }
func (failingTokens) Clear() error           { return nil }

func TestConnectWithoutTokenFails(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	s := NewSession("http://localhost", failingTokens{}, b, m, zap.NewNop())

	if err := s.Connect("u1"); err == nil {
		t.Fatal("expected error when token store is empty")
	}
	if got := m.Current(); got != status.Disconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}
}

func TestConnectWhileConnectingIsNoop(t *testing.T) {
	b := bus.New()
	s := NewSession("http://localhost", failingTokens{}, b, status.NewMachine(b), zap.NewNop())
	s.connecting = true

	// Must return nil without dialing; the failing token store would
	// error if a dial were attempted.
	if err := s.Connect("u1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnectSameUserWhileConnectedIsNoop(t *testing.T) {
	b := bus.New()
	s := NewSession("http://localhost", failingTokens{}, b, status.NewMachine(b), zap.NewNop())
	s.connected = true
	s.userID = "u1"

	if err := s.Connect("u1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.IsConnected() {
		t.Fatal("session should still report connected")
	}
}

func TestDisconnectClearsIdentity(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	s := NewSession("http://localhost", failingTokens{}, b, m, zap.NewNop())
	s.connected = true
	s.userID = "u1"
	s.em = &fakeEmitter{}

	s.Disconnect()

	if s.IsConnected() {
		t.Fatal("session still reports connected")
	}
	if s.UserID() != "" {
		t.Fatalf("user id = %q, want empty", s.UserID())
	}
	if got := m.Current(); got != status.Disconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}
}

func TestRoutePushPublishesTypedEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("chat.", 4)
	defer unsub()

	s := NewSession("http://localhost", failingTokens{}, b, status.NewMachine(b), zap.NewNop())
	s.routePush(PushNewMessage, map[string]any{
		"conversationId": "c1",
		"message": map[string]any{
			"id":             "m1",
			"conversationId": "c1",
			"senderId":       "u2",
			"content":        "bonjour",
		},
	})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindChatMessage {
			t.Fatalf("kind = %q", evt.Kind)
		}
		p := evt.Payload.(wire.NewMessagePush)
		if p.Message.ID != "m1" {
			t.Fatalf("message id = %q", p.Message.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRoutePushDropsMalformed(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("chat.", 4)
	defer unsub()

	s := NewSession("http://localhost", failingTokens{}, b, status.NewMachine(b), zap.NewNop())
	s.routePush(PushMessagesRead, map[string]any{"readerId": "u2"})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
