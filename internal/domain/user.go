// Package domain contains core domain types for the CodeHive application.
package domain

import (
	"time"
)

// AIEmail is the well-known address of the persisted AI identity. The
// record behind it is provisioned once at startup and referenced as the
// sender of every durably stored AI message.
const AIEmail = "ai@system.local"

// User represents a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAIIdentity reports whether this user is the provisioned AI identity.
func (u *User) IsAIIdentity() bool {
	return u.Email == AIEmail
}

// Participant is the identity bound to one room connection. It is
// established during the websocket handshake and immutable for the
// lifetime of the session.
type Participant struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

// ParticipantOf derives the connection-scoped identity view of a user.
func ParticipantOf(u *User) Participant {
	return Participant{ID: u.ID, Email: u.Email}
}
