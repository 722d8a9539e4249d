package domain

import (
	"time"
)

// SenderKind distinguishes human-authored messages from system ones.
type SenderKind int

const (
	SenderHuman SenderKind = iota
	SenderSystem
)

// Sender is a tagged identity attached to every broadcast message. A
// human sender carries the participant's stored id and email; the system
// sender is the single distinguished value used for AI-authored output.
type Sender struct {
	Kind  SenderKind `json:"-"`
	ID    string     `json:"_id"`
	Email string     `json:"email"`
}

// AISender is the synthetic sender clients use to render AI output. It is
// deliberately distinct from the persisted AI identity's real id: clients
// key off _id == "ai", the database keys off the provisioned user row.
var AISender = Sender{Kind: SenderSystem, ID: "ai", Email: "AI"}

// HumanSender builds a sender for an authenticated participant.
func HumanSender(p Participant) Sender {
	return Sender{Kind: SenderHuman, ID: p.ID, Email: p.Email}
}

// IsSystem reports whether the sender is the distinguished AI sender.
func (s Sender) IsSystem() bool {
	return s.Kind == SenderSystem
}

// Message is one append-only chat entry in a project document. Ordering
// is arrival order at the store, not a logical clock.
type Message struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
