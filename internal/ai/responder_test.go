package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/store"
)

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.text, f.err
}

type fakeBroadcaster struct {
	projectIDs []string
	messages   []json.RawMessage
	senders    []domain.Sender
}

func (f *fakeBroadcaster) BroadcastMessage(projectID string, message json.RawMessage, sender domain.Sender) {
	f.projectIDs = append(f.projectIDs, projectID)
	f.messages = append(f.messages, message)
	f.senders = append(f.senders, sender)
}

// stubRepo overrides only the Repository methods the responder touches.
type stubRepo struct {
	store.Repository
	messages  []*domain.Message
	appendErr error
	fileTrees map[string]json.RawMessage
}

func (s *stubRepo) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubRepo) UpdateFileTree(ctx context.Context, projectID string, fileTree json.RawMessage) error {
	if s.fileTrees == nil {
		s.fileTrees = make(map[string]json.RawMessage)
	}
	s.fileTrees[projectID] = fileTree
	return nil
}

func aiUser() *domain.User {
	return &domain.User{ID: "ai-row-id", Email: domain.AIEmail}
}

func TestResponderPersistsAndBroadcastsSuccess(t *testing.T) {
	repo := &stubRepo{}
	rooms := &fakeBroadcaster{}
	r := NewResponder(&fakeGenerator{text: "plain answer"}, repo, rooms, aiUser())

	r.Respond(context.Background(), "proj-1", "do something")

	if len(repo.messages) != 1 {
		t.Fatalf("Expected 1 persisted message, got %d", len(repo.messages))
	}
	if repo.messages[0].SenderID != "ai-row-id" {
		t.Errorf("Expected AI identity sender, got %q", repo.messages[0].SenderID)
	}
	if repo.messages[0].Body != "plain answer" {
		t.Errorf("Expected generated body persisted, got %q", repo.messages[0].Body)
	}

	if len(rooms.messages) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(rooms.messages))
	}
	if !rooms.senders[0].IsSystem() || rooms.senders[0].ID != "ai" || rooms.senders[0].Email != "AI" {
		t.Errorf("Expected synthetic AI sender, got %+v", rooms.senders[0])
	}
}

func TestResponderBroadcastsErrorWithoutPersisting(t *testing.T) {
	repo := &stubRepo{}
	rooms := &fakeBroadcaster{}
	genErr := errors.New("429 rate limited")
	r := NewResponder(&fakeGenerator{err: genErr}, repo, rooms, aiUser())

	r.Respond(context.Background(), "proj-1", "do something")

	if len(repo.messages) != 0 {
		t.Errorf("Expected no persisted messages on failure, got %d", len(repo.messages))
	}
	if len(rooms.messages) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(rooms.messages))
	}

	var body string
	if err := json.Unmarshal(rooms.messages[0], &body); err != nil {
		t.Fatalf("Broadcast body is not a JSON string: %v", err)
	}
	if !strings.HasPrefix(body, "AI error:") {
		t.Errorf("Expected error indicator prefix, got %q", body)
	}
}

func TestResponderMissingIdentitySkipsPersist(t *testing.T) {
	repo := &stubRepo{}
	rooms := &fakeBroadcaster{}
	r := NewResponder(&fakeGenerator{text: "answer"}, repo, rooms, nil)

	r.Respond(context.Background(), "proj-1", "do something")

	if len(repo.messages) != 0 {
		t.Errorf("Expected no persisted messages without identity, got %d", len(repo.messages))
	}
	// Broadcast is prioritized over durability.
	if len(rooms.messages) != 1 {
		t.Errorf("Expected broadcast despite missing identity, got %d", len(rooms.messages))
	}
}

func TestResponderPersistFailureStillBroadcasts(t *testing.T) {
	repo := &stubRepo{appendErr: errors.New("disk full")}
	rooms := &fakeBroadcaster{}
	r := NewResponder(&fakeGenerator{text: "answer"}, repo, rooms, aiUser())

	r.Respond(context.Background(), "proj-1", "do something")

	if len(rooms.messages) != 1 {
		t.Errorf("Expected broadcast despite persistence failure, got %d", len(rooms.messages))
	}
}

func TestResponderPersistsGeneratedFileTree(t *testing.T) {
	structured := `{"text":"made a file","fileTree":{"index.html":{"file":{"contents":"<html>"}}}}`
	repo := &stubRepo{}
	rooms := &fakeBroadcaster{}
	r := NewResponder(&fakeGenerator{text: structured}, repo, rooms, aiUser())

	r.Respond(context.Background(), "proj-1", "make a file")

	if len(repo.fileTrees) != 1 {
		t.Fatalf("Expected file tree persisted, got %d", len(repo.fileTrees))
	}
	if !strings.Contains(string(repo.fileTrees["proj-1"]), "index.html") {
		t.Errorf("Expected index.html in stored tree, got %s", repo.fileTrees["proj-1"])
	}
}

// Non-JSON model output is surfaced to the chat as raw text; it never
// fails the turn.
func TestResponderMalformedOutputBroadcastsRawText(t *testing.T) {
	repo := &stubRepo{}
	rooms := &fakeBroadcaster{}
	r := NewResponder(&fakeGenerator{text: "just some prose"}, repo, rooms, aiUser())

	r.Respond(context.Background(), "proj-1", "hi")

	if len(repo.fileTrees) != 0 {
		t.Errorf("Expected no file tree write, got %d", len(repo.fileTrees))
	}
	var body string
	if err := json.Unmarshal(rooms.messages[0], &body); err != nil {
		t.Fatalf("Broadcast body is not a JSON string: %v", err)
	}
	if body != "just some prose" {
		t.Errorf("Expected raw text broadcast, got %q", body)
	}
}
