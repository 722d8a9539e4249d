package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/codehive/codehive/internal/domain"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestUser(t *testing.T, repo Repository, email string) *domain.User {
	t.Helper()
	now := time.Now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}
	return user
}

func newTestProject(t *testing.T, repo Repository, name string, memberIDs ...string) *domain.Project {
	t.Helper()
	now := time.Now()
	project := &domain.Project{
		ID:        uuid.NewString(),
		Name:      name,
		MemberIDs: memberIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("Failed to create project %s: %v", name, err)
	}
	return project
}

func TestUserLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	created := newTestUser(t, repo, "dev@example.com")

	byEmail, err := repo.GetUserByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != created.ID || byEmail.PasswordHash != "hash" {
		t.Errorf("Unexpected user: %+v", byEmail)
	}

	byID, err := repo.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if byID.Email != "dev@example.com" {
		t.Errorf("Expected dev@example.com, got %q", byID.Email)
	}

	if _, err := repo.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newTestStore(t)
	newTestUser(t, repo, "dev@example.com")

	dup := &domain.User{
		ID:        uuid.NewString(),
		Email:     "dev@example.com",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := repo.CreateUser(context.Background(), dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("Expected ErrDuplicateEmail, got %v", err)
	}
}

func TestEnsureAIIdentityIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first, err := repo.EnsureAIIdentity(ctx)
	if err != nil {
		t.Fatalf("First EnsureAIIdentity failed: %v", err)
	}
	if first.Email != domain.AIEmail {
		t.Errorf("Expected %q, got %q", domain.AIEmail, first.Email)
	}

	second, err := repo.EnsureAIIdentity(ctx)
	if err != nil {
		t.Fatalf("Second EnsureAIIdentity failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected stable identity id, got %q then %q", first.ID, second.ID)
	}
}

func TestListUsersExclusions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	newTestUser(t, repo, "bob@example.com")
	if _, err := repo.EnsureAIIdentity(ctx); err != nil {
		t.Fatalf("EnsureAIIdentity failed: %v", err)
	}

	users, err := repo.ListUsers(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Email != "bob@example.com" {
		t.Errorf("Expected only bob, got %+v", users)
	}
}

func TestProjectLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	bob := newTestUser(t, repo, "bob@example.com")
	project := newTestProject(t, repo, "demo", alice.ID)

	got, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Name != "demo" || len(got.MemberIDs) != 1 || got.MemberIDs[0] != alice.ID {
		t.Errorf("Unexpected project: %+v", got)
	}

	if err := repo.AddProjectMember(ctx, project.ID, bob.ID); err != nil {
		t.Fatalf("AddProjectMember failed: %v", err)
	}
	// Re-adding is a no-op.
	if err := repo.AddProjectMember(ctx, project.ID, bob.ID); err != nil {
		t.Fatalf("Repeated AddProjectMember failed: %v", err)
	}

	got, err = repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if len(got.MemberIDs) != 2 {
		t.Errorf("Expected 2 members, got %v", got.MemberIDs)
	}

	if _, err := repo.GetProject(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListProjectsForUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	bob := newTestUser(t, repo, "bob@example.com")
	newTestProject(t, repo, "alice-only", alice.ID)
	newTestProject(t, repo, "shared", alice.ID, bob.ID)

	aliceProjects, err := repo.ListProjectsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListProjectsForUser failed: %v", err)
	}
	if len(aliceProjects) != 2 {
		t.Errorf("Expected 2 projects for alice, got %d", len(aliceProjects))
	}

	bobProjects, err := repo.ListProjectsForUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListProjectsForUser failed: %v", err)
	}
	if len(bobProjects) != 1 || bobProjects[0].Name != "shared" {
		t.Errorf("Expected only shared project for bob, got %+v", bobProjects)
	}
}

func TestUpdateFileTree(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	project := newTestProject(t, repo, "demo", alice.ID)

	tree := json.RawMessage(`{"index.html":{"file":{"contents":"<html>"}}}`)
	if err := repo.UpdateFileTree(ctx, project.ID, tree); err != nil {
		t.Fatalf("UpdateFileTree failed: %v", err)
	}

	got, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if string(got.FileTree) != string(tree) {
		t.Errorf("Expected stored tree %s, got %s", tree, got.FileTree)
	}

	if err := repo.UpdateFileTree(ctx, uuid.NewString(), tree); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing project, got %v", err)
	}
}

func TestUpdateContainerIDOptimistic(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	project := newTestProject(t, repo, "demo", alice.ID)

	if err := repo.UpdateContainerID(ctx, project.ID, "container-1", ""); err != nil {
		t.Fatalf("Unconditional update failed: %v", err)
	}

	// A stale expectation must not clobber the binding.
	err := repo.UpdateContainerID(ctx, project.ID, "", "container-stale")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for stale expectation, got %v", err)
	}
	got, _ := repo.GetProject(ctx, project.ID)
	if got.ContainerID != "container-1" {
		t.Errorf("Expected binding preserved, got %q", got.ContainerID)
	}

	// A matching expectation clears it.
	if err := repo.UpdateContainerID(ctx, project.ID, "", "container-1"); err != nil {
		t.Fatalf("Conditional clear failed: %v", err)
	}
	got, _ = repo.GetProject(ctx, project.ID)
	if got.ContainerID != "" {
		t.Errorf("Expected binding cleared, got %q", got.ContainerID)
	}
}

func TestGetIdleWorkspaces(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	idle := newTestProject(t, repo, "idle", alice.ID)
	active := newTestProject(t, repo, "active", alice.ID)
	unbound := newTestProject(t, repo, "unbound", alice.ID)

	if err := repo.UpdateContainerID(ctx, idle.ID, "container-idle", ""); err != nil {
		t.Fatalf("UpdateContainerID failed: %v", err)
	}
	if err := repo.TouchLastRun(ctx, idle.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("TouchLastRun failed: %v", err)
	}

	if err := repo.UpdateContainerID(ctx, active.ID, "container-active", ""); err != nil {
		t.Fatalf("UpdateContainerID failed: %v", err)
	}
	if err := repo.TouchLastRun(ctx, active.ID, time.Now()); err != nil {
		t.Fatalf("TouchLastRun failed: %v", err)
	}

	// No container bound, never eligible regardless of age.
	if err := repo.TouchLastRun(ctx, unbound.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("TouchLastRun failed: %v", err)
	}

	got, err := repo.GetIdleWorkspaces(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("GetIdleWorkspaces failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != idle.ID {
		t.Errorf("Expected only the idle project, got %+v", got)
	}
}

func TestMessagesAppendAndListOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	alice := newTestUser(t, repo, "alice@example.com")
	project := newTestProject(t, repo, "demo", alice.ID)
	other := newTestProject(t, repo, "other", alice.ID)

	for _, body := range []string{"first", "second", "third"} {
		msg := &domain.Message{
			ProjectID: project.ID,
			SenderID:  alice.ID,
			Body:      body,
			CreatedAt: time.Now(),
		}
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if msg.ID == 0 {
			t.Error("Expected row id assigned on append")
		}
	}
	if err := repo.AppendMessage(ctx, &domain.Message{
		ProjectID: other.ID, SenderID: alice.ID, Body: "elsewhere", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	messages, err := repo.ListMessages(ctx, project.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if messages[i].Body != want {
			t.Errorf("Expected %q at position %d, got %q", want, i, messages[i].Body)
		}
	}

	limited, err := repo.ListMessages(ctx, project.ID, 2)
	if err != nil {
		t.Fatalf("ListMessages with limit failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Body != "first" {
		t.Errorf("Expected first two messages, got %+v", limited)
	}
}
