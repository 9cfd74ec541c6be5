// Package store persists projects and their collaborators in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/site-scaffolder/internal/models"
)

var (
	ErrNotFound      = errors.New("project not found")
	ErrDuplicateName = errors.New("project name already exists")
	ErrForbidden     = errors.New("user does not belong to this project")
	ErrInvalid       = errors.New("invalid project request")
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS project_users (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	PRIMARY KEY (project_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_project_users_user ON project_users(user_id);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new project owned by userID. Names are trimmed,
// lower-cased and unique.
func (s *Store) Create(ctx context.Context, name, userID string) (*models.ProjectRecord, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}

	rec := &models.ProjectRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Users:     []string{userID},
		CreatedAt: s.now().UTC(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)",
		rec.ID, rec.Name, rec.CreatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO project_users (project_id, user_id) VALUES (?, ?)", rec.ID, userID); err != nil {
		return nil, fmt.Errorf("failed to insert owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project: %w", err)
	}
	return rec, nil
}

// ListByUser returns the projects userID belongs to, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.ProjectRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.created_at
		FROM projects p JOIN project_users u ON u.project_id = p.id
		WHERE u.user_id = ?
		ORDER BY p.created_at, p.rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var out []models.ProjectRecord
	for rows.Next() {
		rec, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	for i := range out {
		if out[i].Users, err = s.users(ctx, s.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []models.ProjectRecord{}
	}
	return out, nil
}

// AddUsers adds collaborators to a project. The requester must already be a
// member; users already present are left as they are.
func (s *Store) AddUsers(ctx context.Context, projectID, requester string, users []string) (*models.ProjectRecord, error) {
	if projectID == "" || requester == "" {
		return nil, fmt.Errorf("%w: project id and user id are required", ErrInvalid)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: users must be a non-empty list", ErrInvalid)
	}
	for _, u := range users {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("%w: user ids must be non-empty", ErrInvalid)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.get(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	var member int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM project_users WHERE project_id = ? AND user_id = ?", projectID, requester).Scan(&member)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if member == 0 {
		return nil, ErrForbidden
	}
	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO project_users (project_id, user_id) VALUES (?, ?)", projectID, strings.TrimSpace(u)); err != nil {
			return nil, fmt.Errorf("failed to add user: %w", err)
		}
	}
	if rec.Users, err = s.users(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit users: %w", err)
	}
	return rec, nil
}

// Get returns one project with its members.
func (s *Store) Get(ctx context.Context, id string) (*models.ProjectRecord, error) {
	return s.get(ctx, s.db, id)
}

// IsMember reports whether userID belongs to project id.
func (s *Store) IsMember(ctx context.Context, id, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM project_users WHERE project_id = ? AND user_id = ?", id, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q querier, id string) (*models.ProjectRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT id, name, created_at FROM projects WHERE id = ?", id)
	rec, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if rec.Users, err = s.users(ctx, q, id); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) users(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT user_id FROM project_users WHERE project_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	defer rows.Close()
	users := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (*models.ProjectRecord, error) {
	var rec models.ProjectRecord
	var created string
	if err := sc.Scan(&rec.ID, &rec.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	rec.CreatedAt = t
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
