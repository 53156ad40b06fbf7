package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OceanOptics/getOC/internal/download"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS getoc_transfers (
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	platform   TEXT NOT NULL,
	url        TEXT NOT NULL,
	state      TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	bytes      BIGINT NOT NULL DEFAULT 0,
	expected   BIGINT NOT NULL DEFAULT -1,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, name)
)
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a ledger on an open pool and ensures its table exists.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresRepository, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Record inserts or updates an entry.
func (r *PostgresRepository) Record(ctx context.Context, t download.Transfer) error {
	e := entryFromTransfer(t)
	query := `
		INSERT INTO getoc_transfers (run_id, name, platform, url, state, attempts, bytes, expected, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, name) DO UPDATE SET
			platform = EXCLUDED.platform,
			url = EXCLUDED.url,
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			bytes = EXCLUDED.bytes,
			expected = EXCLUDED.expected,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		e.RunID, e.Name, e.Platform, e.URL, string(e.State),
		e.Attempts, e.Bytes, e.Expected, e.Error, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording transfer: %w", err)
	}
	return nil
}

// Get retrieves one entry.
func (r *PostgresRepository) Get(ctx context.Context, runID, name string) (*Entry, error) {
	query := `
		SELECT run_id, name, platform, url, state, attempts, bytes, expected, error, created_at, updated_at
		FROM getoc_transfers
		WHERE run_id = $1 AND name = $2
	`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, runID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListByRun returns the entries of a run ordered by creation.
func (r *PostgresRepository) ListByRun(ctx context.Context, runID string) ([]*Entry, error) {
	query := `
		SELECT run_id, name, platform, url, state, attempts, bytes, expected, error, created_at, updated_at
		FROM getoc_transfers
		WHERE run_id = $1
		ORDER BY created_at, name
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
