package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps migration phases in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the state database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// A single connection keeps in-memory databases shared and serialises writers
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates the state table if needed on an open database
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	const ddl = `
		CREATE TABLE IF NOT EXISTS reshape_migrations (
			name TEXT PRIMARY KEY,
			phase TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, name string) (Phase, bool, error) {
	return get(ctx, s.db, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, name string) (Phase, bool, error) {
	var phase string
	err := q.QueryRowContext(ctx, `SELECT phase FROM reshape_migrations WHERE name = ?`, name).Scan(&phase)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read phase of %q: %w", name, err)
	}
	return Phase(phase), true, nil
}

// Set implements Store. The read and the write share one transaction.
func (s *SQLiteStore) Set(ctx context.Context, name string, phase Phase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	current, _, err := get(ctx, tx, name)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := checkTransition(name, current, phase); err != nil {
		_ = tx.Rollback()
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reshape_migrations (name, phase, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET phase = excluded.phase, updated_at = excluded.updated_at
	`, name, string(phase), time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record phase of %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit phase of %q: %w", name, err)
	}
	return nil
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, phase, updated_at FROM reshape_migrations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var phase string
		if err := rows.Scan(&r.Name, &phase, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Phase = Phase(phase)
		records = append(records, r)
	}

	return records, rows.Err()
}
