package brainstate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the server-side sample history. Devices keep only today's
// sample; the backend keeps the full record per account.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the brain_states table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS brain_states (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			energy      INTEGER NOT NULL,
			focus       INTEGER NOT NULL,
			mood        INTEGER NOT NULL,
			notes       TEXT NOT NULL DEFAULT '',
			captured_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_brain_states_account ON brain_states(account_id, captured_at DESC)`)
	return err
}

// Create inserts a sample. The device assigns the id; re-sending the same
// sample after a retry is a no-op.
func (s *PgStore) Create(ctx context.Context, accountID string, sm *Sample) (*Sample, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO brain_states (id, account_id, energy, focus, mood, notes, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		sm.ID, accountID, sm.Energy, sm.Focus, sm.Mood, sm.Notes, sm.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("create brain state: %w", err)
	}
	return sm, nil
}

// Recent returns the account's latest samples, newest first.
func (s *PgStore) Recent(ctx context.Context, accountID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, energy, focus, mood, notes, captured_at
		FROM brain_states WHERE account_id = $1
		ORDER BY captured_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list brain states: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.ID, &sm.Energy, &sm.Focus, &sm.Mood, &sm.Notes, &sm.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan brain state: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
