package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store errors surfaced by the reference backend. Handlers map these to
// HTTP statuses.
var (
	ErrNotFound        = errors.New("task not found")
	ErrVersionConflict = errors.New("task version conflict")
)

// PgStore is the server-side, PostgreSQL-backed task store. Rows are scoped
// to an account and carry a version that increments on every write; writes
// against a stale version fail with ErrVersionConflict.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id                TEXT PRIMARY KEY,
			account_id        TEXT NOT NULL,
			title             TEXT NOT NULL,
			complexity_level  INTEGER NOT NULL DEFAULT 1,
			estimated_minutes INTEGER,
			is_completed      BOOLEAN NOT NULL DEFAULT FALSE,
			ai_breakdown      JSONB,
			version           BIGINT NOT NULL DEFAULT 1,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_account ON tasks(account_id)`)
	return err
}

// Create inserts a new task for the account and assigns the server id.
func (s *PgStore) Create(ctx context.Context, accountID string, t *Task) (*Task, error) {
	row := t.Clone()
	row.ID = uuid.Must(uuid.NewV7()).String()
	row.RemoteID = ""
	row.Version = 1
	now := time.Now().Truncate(time.Microsecond)
	row.CreatedAt = now
	row.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, account_id, title, complexity_level, estimated_minutes, is_completed, ai_breakdown, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, accountID, row.Title, row.ComplexityLevel, row.EstimatedMinutes, row.IsCompleted, row.AIBreakdown, row.Version, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return row, nil
}

// Get retrieves one task for the account.
func (s *PgStore) Get(ctx context.Context, accountID, id string) (*Task, error) {
	var t Task
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, complexity_level, estimated_minutes, is_completed, ai_breakdown, version, created_at, updated_at
		FROM tasks WHERE id = $1 AND account_id = $2`, id, accountID).
		Scan(&t.ID, &t.Title, &t.ComplexityLevel, &t.EstimatedMinutes, &t.IsCompleted, &t.AIBreakdown, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

// List returns the account's tasks, newest first.
func (s *PgStore) List(ctx context.Context, accountID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, complexity_level, estimated_minutes, is_completed, ai_breakdown, version, created_at, updated_at
		FROM tasks WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.ComplexityLevel, &t.EstimatedMinutes, &t.IsCompleted, &t.AIBreakdown, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update overwrites the row if the caller holds the current version, then
// bumps the version. A stale version yields ErrVersionConflict.
func (s *PgStore) Update(ctx context.Context, accountID string, t *Task) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET title = $1, complexity_level = $2, estimated_minutes = $3, is_completed = $4, ai_breakdown = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $7 AND account_id = $8 AND version = $9`,
		t.Title, t.ComplexityLevel, t.EstimatedMinutes, t.IsCompleted, t.AIBreakdown, now, t.ID, accountID, t.Version)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, accountID, t.ID); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}
	return s.Get(ctx, accountID, t.ID)
}

// Delete removes the row if the caller holds the current version.
func (s *PgStore) Delete(ctx context.Context, accountID, id string, version int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks WHERE id = $1 AND account_id = $2 AND version = $3`,
		id, accountID, version)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, accountID, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}
