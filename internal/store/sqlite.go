package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"modelfetch/internal/logging"

	_ "modernc.org/sqlite"
)

// LoadRecord is a row in the loads journal: one completed load
// operation (cache read or download attempt) for one model.
type LoadRecord struct {
	ID           int64     `json:"id"`
	Model        string    `json:"model"`
	Source       string    `json:"source"`  // cache | network
	Outcome      string    `json:"outcome"` // success | miss | invalid | failure
	Attempt      int       `json:"attempt"` // 0 for cache reads, 1-based for downloads
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store wraps an sql.DB and provides typed helpers for the load journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path and ensures schema.
func Open(path string) (*Store, error) {
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Conservative limits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	// Create table if not exists.
	const ddl = `
CREATE TABLE IF NOT EXISTS loads (
    id INTEGER PRIMARY KEY,
    model TEXT NOT NULL,
    source TEXT NOT NULL,
    outcome TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_loads_model ON loads(model);
CREATE INDEX IF NOT EXISTS idx_loads_created_at ON loads(created_at);
CREATE INDEX IF NOT EXISTS idx_loads_model_outcome ON loads(model, outcome);
`
	_, err := db.Exec(ddl)
	if err != nil {
		return err
	}

	if err := ensureColumn(db, "loads", "error_message", "TEXT"); err != nil {
		return err
	}

	return nil
}

func ensureColumn(db *sql.DB, table, column, colType string) error {
	hasCol, err := hasColumn(db, table, column)
	if err != nil {
		return err
	}
	if hasCol {
		return nil
	}

	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, colType))
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// RecordLoad inserts a journal row and returns its ID.
func (s *Store) RecordLoad(ctx context.Context, rec LoadRecord) (int64, error) {
	if rec.Model == "" {
		return 0, ErrEmptyModel
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO loads (model, source, outcome, attempt, duration_ms, error_message)
VALUES (?, ?, ?, ?, ?, ?)`, rec.Model, rec.Source, rec.Outcome, rec.Attempt, rec.DurationMS, rec.ErrorMessage)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get insert id: %w", err)
	}
	logging.LogDBOperation("record_load", id, nil)
	return id, nil
}

// RecentLoads returns journal rows, newest first. An empty model selects
// all models. limit <= 0 or > 500 defaults to 100.
func (s *Store) RecentLoads(ctx context.Context, model string, limit int) ([]LoadRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, model, source, outcome, attempt, duration_ms, COALESCE(error_message, ''), created_at`
	if model != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM loads WHERE model = ? ORDER BY id DESC LIMIT ?`, model, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM loads ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LoadRecord, 0, limit)
	for rows.Next() {
		var rec LoadRecord
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.Source, &rec.Outcome, &rec.Attempt, &rec.DurationMS, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountOutcomes returns per-outcome counts for one model, for status
// summaries.
func (s *Store) CountOutcomes(ctx context.Context, model string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM loads WHERE model = ? GROUP BY outcome`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// PruneOlderThan removes journal rows created before the cutoff and
// returns how many were deleted.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM loads WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
