// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codehive/codehive/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEmail is returned when registering an email that is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines the interface for persisting users, projects, and messages.
type Repository interface {
	// CreateUser inserts a new user. Fails with ErrDuplicateEmail if the
	// email is already registered.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUserByEmail retrieves a user by email. Returns ErrNotFound if absent.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetUserByID retrieves a user by id. Returns ErrNotFound if absent.
	GetUserByID(ctx context.Context, id string) (*domain.User, error)

	// ListUsers returns all users except the given id and the AI
	// identity, for collaborator pickers.
	ListUsers(ctx context.Context, excludeID string) ([]*domain.User, error)

	// EnsureAIIdentity provisions the well-known AI identity record if it
	// does not exist and returns it. The call is idempotent: a second call
	// observes the existing record.
	EnsureAIIdentity(ctx context.Context) (*domain.User, error)

	// CreateProject inserts a project and its initial member set.
	CreateProject(ctx context.Context, project *domain.Project) error

	// GetProject retrieves a project with its member ids. Returns
	// ErrNotFound if absent.
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// ListProjectsForUser returns all projects the user is a member of.
	ListProjectsForUser(ctx context.Context, userID string) ([]*domain.Project, error)

	// AddProjectMember adds a collaborator. Adding an existing member is a no-op.
	AddProjectMember(ctx context.Context, projectID, userID string) error

	// UpdateFileTree replaces the project's stored file tree.
	UpdateFileTree(ctx context.Context, projectID string, fileTree json.RawMessage) error

	// UpdateContainerID updates the workspace container bound to a project.
	// If expectedID is non-empty, the update only happens if the current
	// container_id matches expectedID (optimistic locking).
	UpdateContainerID(ctx context.Context, projectID, containerID, expectedID string) error

	// TouchLastRun records workspace activity for TTL accounting.
	TouchLastRun(ctx context.Context, projectID string, at time.Time) error

	// GetIdleWorkspaces returns projects whose workspace containers have
	// been inactive longer than ttl.
	GetIdleWorkspaces(ctx context.Context, ttl time.Duration) ([]*domain.Project, error)

	// AppendMessage appends a chat message to a project document.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns up to limit messages for a project in arrival
	// order. limit <= 0 means no limit.
	ListMessages(ctx context.Context, projectID string, limit int) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
