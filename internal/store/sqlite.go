package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		file_tree TEXT,
		container_id TEXT,
		last_run_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_last_run ON projects(last_run_at) WHERE container_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (project_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (user_id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash,
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64

	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT user_id, email, password_hash, created_at, updated_at FROM users WHERE email = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

// GetUserByID retrieves a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT user_id, email, password_hash, created_at, updated_at FROM users WHERE user_id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// ListUsers returns all users except the given id and the AI identity.
func (s *SQLiteStore) ListUsers(ctx context.Context, excludeID string) ([]*domain.User, error) {
	query := `
		SELECT user_id, email, password_hash, created_at, updated_at
		FROM users WHERE user_id != ? AND email != ?
		ORDER BY email`

	rows, err := s.db.QueryContext(ctx, query, excludeID, domain.AIEmail)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		var createdAt, updatedAt int64
		if err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		user.CreatedAt = time.Unix(createdAt, 0)
		user.UpdatedAt = time.Unix(updatedAt, 0)
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, nil
}

// EnsureAIIdentity provisions the well-known AI identity record if needed.
// INSERT OR IGNORE keeps the call idempotent even under concurrent startup.
func (s *SQLiteStore) EnsureAIIdentity(ctx context.Context) (*domain.User, error) {
	now := time.Now()
	query := `
		INSERT OR IGNORE INTO users (user_id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, '', ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), domain.AIEmail, now.Unix(), now.Unix()); err != nil {
		return nil, fmt.Errorf("provision ai identity: %w", err)
	}

	user, err := s.GetUserByEmail(ctx, domain.AIEmail)
	if err != nil {
		return nil, fmt.Errorf("load ai identity: %w", err)
	}
	return user, nil
}

// CreateProject inserts a project and its initial member set.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fileTree sql.NullString
	if len(project.FileTree) > 0 {
		fileTree = sql.NullString{String: string(project.FileTree), Valid: true}
	}

	query := `
		INSERT INTO projects (project_id, name, file_tree, container_id, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, NULL, NULL, ?, ?)`
	if _, err := tx.ExecContext(ctx, query,
		project.ID, project.Name, fileTree,
		project.CreatedAt.Unix(), project.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	for _, userID := range project.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)`,
			project.ID, userID,
		); err != nil {
			return fmt.Errorf("insert project member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit project: %w", err)
	}
	return nil
}

// GetProject retrieves a project with its member ids.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	query := `
		SELECT project_id, name, file_tree, container_id, last_run_at, created_at, updated_at
		FROM projects WHERE project_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var project domain.Project
	var fileTree, containerID sql.NullString
	var lastRunAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&project.ID, &project.Name, &fileTree, &containerID,
		&lastRunAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}

	if fileTree.Valid {
		project.FileTree = json.RawMessage(fileTree.String)
	}
	project.ContainerID = containerID.String
	if lastRunAt.Valid {
		project.LastRunAt = time.Unix(lastRunAt.Int64, 0)
	}
	project.CreatedAt = time.Unix(createdAt, 0)
	project.UpdatedAt = time.Unix(updatedAt, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM project_members WHERE project_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query project members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		project.MemberIDs = append(project.MemberIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member rows: %w", err)
	}

	return &project, nil
}

// ListProjectsForUser returns all projects the user is a member of.
func (s *SQLiteStore) ListProjectsForUser(ctx context.Context, userID string) ([]*domain.Project, error) {
	query := `
		SELECT p.project_id
		FROM projects p
		JOIN project_members m ON m.project_id = p.project_id
		WHERE m.user_id = ?
		ORDER BY p.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}

	projects := make([]*domain.Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// AddProjectMember adds a collaborator to a project.
func (s *SQLiteStore) AddProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	return nil
}

// UpdateFileTree replaces the project's stored file tree.
func (s *SQLiteStore) UpdateFileTree(ctx context.Context, projectID string, fileTree json.RawMessage) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_tree = ?, updated_at = ? WHERE project_id = ?`,
		string(fileTree), time.Now().Unix(), projectID,
	)
	if err != nil {
		return fmt.Errorf("update file tree: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateContainerID updates the workspace container bound to a project.
func (s *SQLiteStore) UpdateContainerID(ctx context.Context, projectID, containerID, expectedID string) error {
	var result sql.Result
	var err error

	if expectedID != "" {
		result, err = s.db.ExecContext(ctx,
			`UPDATE projects SET container_id = ?, updated_at = ? WHERE project_id = ? AND container_id = ?`,
			nullable(containerID), time.Now().Unix(), projectID, expectedID,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE projects SET container_id = ?, updated_at = ? WHERE project_id = ?`,
			nullable(containerID), time.Now().Unix(), projectID,
		)
	}
	if err != nil {
		return fmt.Errorf("update container id: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastRun records workspace activity for TTL accounting.
func (s *SQLiteStore) TouchLastRun(ctx context.Context, projectID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET last_run_at = ? WHERE project_id = ?`,
		at.Unix(), projectID,
	)
	if err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	return nil
}

// GetIdleWorkspaces returns projects whose workspace containers have been
// inactive longer than ttl.
func (s *SQLiteStore) GetIdleWorkspaces(ctx context.Context, ttl time.Duration) ([]*domain.Project, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	query := `
		SELECT project_id FROM projects
		WHERE container_id IS NOT NULL AND container_id != ''
		  AND last_run_at IS NOT NULL AND last_run_at < ?`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query idle workspaces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle rows: %w", err)
	}

	projects := make([]*domain.Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// AppendMessage appends a chat message to a project document. Concurrent
// writers in one room can briefly lock the database, so SQLite conflicts
// retry with backoff before giving up.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (project_id, sender_id, body, created_at) VALUES (?, ?, ?, ?)`,
			msg.ProjectID, msg.SenderID, msg.Body, msg.CreatedAt.Unix(),
		)
		if err == nil {
			if id, err := result.LastInsertId(); err == nil {
				msg.ID = id
			}
			return nil
		}

		lastErr = err
		if !shared.IsSQLiteConflictError(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond << attempt):
		}
	}
	return fmt.Errorf("insert message: %w", lastErr)
}

// ListMessages returns messages for a project in arrival order.
func (s *SQLiteStore) ListMessages(ctx context.Context, projectID string, limit int) ([]*domain.Message, error) {
	query := `SELECT id, project_id, sender_id, body, created_at FROM messages WHERE project_id = ? ORDER BY id`
	args := []interface{}{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &msg.SenderID, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
