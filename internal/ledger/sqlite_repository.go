package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/OceanOptics/getOC/internal/download"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transfers (
  run_id     TEXT NOT NULL,
  name       TEXT NOT NULL,
  platform   TEXT NOT NULL,
  url        TEXT NOT NULL,
  state      TEXT NOT NULL,
  attempts   INTEGER NOT NULL DEFAULT 0,
  bytes      INTEGER NOT NULL DEFAULT 0,
  expected   INTEGER NOT NULL DEFAULT -1,
  error      TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  PRIMARY KEY (run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_transfers_state ON transfers(state);
`

// SQLiteRepository is a SQLite implementation of Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and creates if needed) a ledger database file.
// The path ":memory:" gives a private in-memory database.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Record inserts or updates an entry.
func (r *SQLiteRepository) Record(ctx context.Context, t download.Transfer) error {
	e := entryFromTransfer(t)
	query := `
		INSERT INTO transfers (run_id, name, platform, url, state, attempts, bytes, expected, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET
			platform = excluded.platform,
			url = excluded.url,
			state = excluded.state,
			attempts = excluded.attempts,
			bytes = excluded.bytes,
			expected = excluded.expected,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		e.RunID, e.Name, e.Platform, e.URL, string(e.State),
		e.Attempts, e.Bytes, e.Expected, e.Error, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording transfer: %w", err)
	}
	return nil
}

// Get retrieves one entry.
func (r *SQLiteRepository) Get(ctx context.Context, runID, name string) (*Entry, error) {
	query := `
		SELECT run_id, name, platform, url, state, attempts, bytes, expected, error, created_at, updated_at
		FROM transfers
		WHERE run_id = ? AND name = ?
	`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, runID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// ListByRun returns the entries of a run ordered by creation.
func (r *SQLiteRepository) ListByRun(ctx context.Context, runID string) ([]*Entry, error) {
	query := `
		SELECT run_id, name, platform, url, state, attempts, bytes, expected, error, created_at, updated_at
		FROM transfers
		WHERE run_id = ?
		ORDER BY created_at, rowid
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
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
	return entries, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e     Entry
		state string
	)
	err := row.Scan(
		&e.RunID,
		&e.Name,
		&e.Platform,
		&e.URL,
		&state,
		&e.Attempts,
		&e.Bytes,
		&e.Expected,
		&e.Error,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.State = download.State(state)
	return &e, nil
}
