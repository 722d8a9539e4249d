package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/codehive/codehive/internal/domain"
	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func newTestSession(projectID, email string, conn *fakeConn) *Session {
	return NewSession(projectID, domain.Participant{ID: email + "-id", Email: email}, conn)
}

func decodeFrame(t *testing.T, raw []byte) (string, OutboundMessage) {
	t.Helper()
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	var out OutboundMessage
	if err := json.Unmarshal(frame.Data, &out); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	return frame.Event, out
}

func TestRoomRegistry_JoinLeave(t *testing.T) {
	r := NewRoomRegistry()
	s1 := newTestSession("proj-1", "a@example.com", &fakeConn{})
	s2 := newTestSession("proj-1", "b@example.com", &fakeConn{})

	r.Join(s1)
	r.Join(s2)
	if got := r.RoomSize("proj-1"); got != 2 {
		t.Fatalf("Expected room size 2, got %d", got)
	}

	r.Leave(s1)
	if got := r.RoomSize("proj-1"); got != 1 {
		t.Fatalf("Expected room size 1, got %d", got)
	}

	// Leaving twice is a no-op.
	r.Leave(s1)
	if got := r.RoomSize("proj-1"); got != 1 {
		t.Fatalf("Expected room size 1 after stale leave, got %d", got)
	}

	// The room is evicted once empty.
	r.Leave(s2)
	if got := r.RoomSize("proj-1"); got != 0 {
		t.Fatalf("Expected empty room, got %d", got)
	}
	r.mu.RLock()
	_, exists := r.rooms["proj-1"]
	r.mu.RUnlock()
	if exists {
		t.Error("Expected empty room to be evicted from the registry")
	}
}

// Broadcast must include the original sender: the broadcast is the
// source of truth, there is no optimistic local echo.
func TestRoomRegistry_BroadcastEchoesSender(t *testing.T) {
	r := NewRoomRegistry()
	senderConn := &fakeConn{}
	otherConn := &fakeConn{}
	sender := newTestSession("proj-1", "sender@example.com", senderConn)
	other := newTestSession("proj-1", "other@example.com", otherConn)
	r.Join(sender)
	r.Join(other)

	r.BroadcastMessage("proj-1", json.RawMessage(`"hello"`), domain.HumanSender(sender.Participant))

	for _, conn := range []*fakeConn{senderConn, otherConn} {
		frames := conn.received()
		if len(frames) != 1 {
			t.Fatalf("Expected 1 frame, got %d", len(frames))
		}
		event, out := decodeFrame(t, frames[0])
		if event != MessageEvent {
			t.Errorf("Expected %q event, got %q", MessageEvent, event)
		}
		if string(out.Message) != `"hello"` {
			t.Errorf("Expected hello body, got %s", out.Message)
		}
		if out.Sender.Email != "sender@example.com" {
			t.Errorf("Expected sender email, got %q", out.Sender.Email)
		}
	}
}

func TestRoomRegistry_NoCrossRoomLeakage(t *testing.T) {
	r := NewRoomRegistry()
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}
	r.Join(newTestSession("proj-1", "a@example.com", conn1))
	r.Join(newTestSession("proj-2", "b@example.com", conn2))

	r.BroadcastMessage("proj-1", json.RawMessage(`"secret"`), domain.AISender)

	if len(conn1.received()) != 1 {
		t.Errorf("Expected proj-1 member to receive the message")
	}
	if len(conn2.received()) != 0 {
		t.Errorf("Expected proj-2 member to receive nothing, got %d frames", len(conn2.received()))
	}
}

func TestRoomRegistry_DeadConnectionDoesNotBlockRoom(t *testing.T) {
	r := NewRoomRegistry()
	dead := &fakeConn{err: errors.New("connection reset")}
	alive := &fakeConn{}
	r.Join(newTestSession("proj-1", "dead@example.com", dead))
	r.Join(newTestSession("proj-1", "alive@example.com", alive))

	r.BroadcastMessage("proj-1", json.RawMessage(`"still here"`), domain.AISender)

	if len(alive.received()) != 1 {
		t.Errorf("Expected healthy member to receive the message despite a dead peer")
	}
}

func TestRoomRegistry_EmptyMessageCoercesToEmptyString(t *testing.T) {
	r := NewRoomRegistry()
	conn := &fakeConn{}
	r.Join(newTestSession("proj-1", "a@example.com", conn))

	r.BroadcastMessage("proj-1", nil, domain.AISender)

	_, out := decodeFrame(t, conn.received()[0])
	if string(out.Message) != `""` {
		t.Errorf("Expected empty string body, got %s", out.Message)
	}
}
