package chat

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/codehive/codehive/internal/domain"
)

// MessageEvent is the event name used for chat traffic in both directions.
const MessageEvent = "project-message"

// Frame is the wire envelope for every websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundMessage is the payload broadcast to every room participant.
// Message passes through exactly as the sender supplied it, so it may be
// a JSON string or an object.
type OutboundMessage struct {
	Message json.RawMessage `json:"message"`
	Sender  domain.Sender   `json:"sender"`
}

// RoomRegistry maps project ids to the set of connected sessions. Rooms
// are created on first join and evicted once the last session leaves.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]map[*Session]struct{}),
	}
}

// Join adds a session to its project's room, creating the room if needed.
func (r *RoomRegistry) Join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[s.ProjectID]
	if !ok {
		room = make(map[*Session]struct{})
		r.rooms[s.ProjectID] = room
	}
	room[s] = struct{}{}
	slog.Info("Participant joined room", "project_id", s.ProjectID, "email", s.Participant.Email)
}

// Leave removes a session from its room and evicts the room when empty.
func (r *RoomRegistry) Leave(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[s.ProjectID]
	if !ok {
		return
	}
	if _, exists := room[s]; !exists {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(r.rooms, s.ProjectID)
	}
	slog.Info("Participant left room", "project_id", s.ProjectID, "email", s.Participant.Email)
}

// RoomSize returns the number of sessions currently in a room.
func (r *RoomRegistry) RoomSize(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[projectID])
}

// BroadcastMessage fans a chat message out to every session in the room,
// including the sender. Slow or dead connections are logged and skipped;
// they never block delivery to the rest of the room.
func (r *RoomRegistry) BroadcastMessage(projectID string, message json.RawMessage, sender domain.Sender) {
	payload, err := encodeMessageFrame(message, sender)
	if err != nil {
		slog.Error("Failed to encode broadcast frame", "error", err, "project_id", projectID)
		return
	}

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms[projectID]))
	for s := range r.rooms[projectID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.send(payload); err != nil {
			slog.Warn("Broadcast write failed",
				"error", err,
				"project_id", projectID,
				"recipient", s.Participant.Email,
			)
		}
	}
}

func encodeMessageFrame(message json.RawMessage, sender domain.Sender) ([]byte, error) {
	if len(message) == 0 {
		message = json.RawMessage(`""`)
	}
	data, err := json.Marshal(OutboundMessage{Message: message, Sender: sender})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: MessageEvent, Data: data})
}
