// Package store persists analysis envelopes across launches. It is the
// durable second tier behind the in-memory cache.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memoflow/distill/pkg/analysis"
)

// ErrNotFound is returned when no envelope is stored for a memo and mode.
var ErrNotFound = errors.New("store: envelope not found")

// EnvelopeStore is the persistence contract used by the orchestrator.
type EnvelopeStore interface {
	Get(ctx context.Context, memoID string, mode analysis.Mode) (*analysis.Envelope, error)
	Put(ctx context.Context, memoID string, env *analysis.Envelope) error
	Modes(ctx context.Context, memoID string) ([]analysis.Mode, error)
	InvalidateMemo(ctx context.Context, memoID string) error
	Close() error
}

// SQLiteStore implements EnvelopeStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the envelope database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS envelopes (
		memo_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		payload BLOB NOT NULL,
		model TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (memo_id, mode)
	);
	CREATE INDEX IF NOT EXISTS idx_envelopes_memo ON envelopes(memo_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// Get implements EnvelopeStore.Get.
func (s *SQLiteStore) Get(ctx context.Context, memoID string, mode analysis.Mode) (*analysis.Envelope, error) {
	query := `SELECT payload FROM envelopes WHERE memo_id = ? AND mode = ?`
	row := s.db.QueryRowContext(ctx, query, memoID, string(mode))

	var payload []byte
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan envelope: %w", err)
	}

	return analysis.DecodeEnvelope(mode, payload)
}

// Put implements EnvelopeStore.Put. One row per memo and mode; a second
// write for the same pair replaces the first.
func (s *SQLiteStore) Put(ctx context.Context, memoID string, env *analysis.Envelope) error {
	payload, err := analysis.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO envelopes (memo_id, mode, payload, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memo_id, mode) DO UPDATE SET
			payload = excluded.payload,
			model = excluded.model,
			created_at = excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		memoID, string(env.Mode), payload, env.Model, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

// Modes implements EnvelopeStore.Modes, listing which analyses are stored
// for a memo.
func (s *SQLiteStore) Modes(ctx context.Context, memoID string) ([]analysis.Mode, error) {
	query := `SELECT mode FROM envelopes WHERE memo_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, memoID)
	if err != nil {
		return nil, fmt.Errorf("query envelope modes: %w", err)
	}
	defer rows.Close()

	var modes []analysis.Mode
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan envelope mode: %w", err)
		}
		modes = append(modes, analysis.Mode(m))
	}
	return modes, rows.Err()
}

// InvalidateMemo implements EnvelopeStore.InvalidateMemo, dropping every
// stored mode for the memo.
func (s *SQLiteStore) InvalidateMemo(ctx context.Context, memoID string) error {
	query := `DELETE FROM envelopes WHERE memo_id = ?`
	if _, err := s.db.ExecContext(ctx, query, memoID); err != nil {
		return fmt.Errorf("invalidate memo: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

var _ EnvelopeStore = (*SQLiteStore)(nil)
