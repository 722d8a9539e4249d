// Package chat provides websocket-based project chat rooms with
// room-scoped broadcast.
package chat

import (
	"context"
	"time"

	"github.com/codehive/codehive/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// messageWriter is the subset of *websocket.Conn the session needs.
// Narrowed so registry and router tests can inject a fake connection.
type messageWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Session represents one authenticated participant attached to one
// project's broadcast room. The binding is fixed for the connection
// lifetime; switching rooms requires a reconnect.
type Session struct {
	ProjectID   string
	Participant domain.Participant

	conn messageWriter
}

// NewSession binds a connection to a participant and room.
func NewSession(projectID string, participant domain.Participant, conn messageWriter) *Session {
	return &Session{
		ProjectID:   projectID,
		Participant: participant,
		conn:        conn,
	}
}

func (s *Session) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, payload)
}
