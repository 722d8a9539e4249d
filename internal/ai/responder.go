package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/store"
)

// TextGenerator produces text for a prompt, failing only after the whole
// fallback pipeline is exhausted.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Broadcaster fans a message out to every participant of a room.
type Broadcaster interface {
	BroadcastMessage(projectID string, message json.RawMessage, sender domain.Sender)
}

// Responder orchestrates one AI turn: generate, persist under the AI
// identity, broadcast to the room. Broadcast is prioritized over
// durability throughout: persistence failures never block delivery.
type Responder struct {
	generator TextGenerator
	repo      store.Repository
	rooms     Broadcaster
	identity  *domain.User // provisioned at startup, immutable
}

// NewResponder creates a responder. identity is the provisioned AI user
// record; it may be nil if provisioning failed, in which case AI
// messages broadcast without a database write.
func NewResponder(generator TextGenerator, repo store.Repository, rooms Broadcaster, identity *domain.User) *Responder {
	return &Responder{
		generator: generator,
		repo:      repo,
		rooms:     rooms,
		identity:  identity,
	}
}

// Respond handles one AI turn. Generation failures become a user-facing
// chat message and are not persisted; only successful turns are durably
// recorded.
func (r *Responder) Respond(ctx context.Context, projectID, prompt string) {
	text, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		slog.Error("AI generation failed", "error", err, "project_id", projectID)
		r.broadcastText(projectID, fmt.Sprintf("AI error: %v", err))
		return
	}

	r.persist(ctx, projectID, text)

	if out, ok := ParseOutput(text); ok && len(out.FileTree) > 0 {
		if err := r.repo.UpdateFileTree(ctx, projectID, out.FileTree); err != nil {
			slog.Warn("Failed to persist AI file tree", "error", err, "project_id", projectID)
		}
	}

	r.broadcastText(projectID, text)
}

func (r *Responder) persist(ctx context.Context, projectID, text string) {
	if r.identity == nil {
		slog.Warn("AI identity not available, skipping database save", "project_id", projectID)
		return
	}
	msg := &domain.Message{
		ProjectID: projectID,
		SenderID:  r.identity.ID,
		Body:      text,
		CreatedAt: time.Now(),
	}
	if err := r.repo.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to save AI message", "error", err, "project_id", projectID)
	}
}

func (r *Responder) broadcastText(projectID, text string) {
	body, err := json.Marshal(text)
	if err != nil {
		slog.Error("Failed to encode AI message", "error", err, "project_id", projectID)
		return
	}
	r.rooms.BroadcastMessage(projectID, body, domain.AISender)
}
