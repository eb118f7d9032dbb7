package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore is the embedded single-node backend.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore wraps db and creates the table if needed.
func NewSQLiteAuditStore(ctx context.Context, db *sql.DB) (*SQLiteAuditStore, error) {
	s := &SQLiteAuditStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate sqlite audit store: %w", err)
	}
	return s, nil
}

func (s *SQLiteAuditStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		session_id TEXT PRIMARY KEY,
		audit_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		vetoed BOOLEAN NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		written_at TEXT NOT NULL,
		entry TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS audit_entries_written_at ON audit_entries (written_at);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Append inserts entry; a second append for the same session is ignored.
func (s *SQLiteAuditStore) Append(ctx context.Context, e contracts.AuditEntry) error {
	doc, err := encodeEntry(e)
	if err != nil {
		return err
	}
	query := `INSERT OR IGNORE INTO audit_entries (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.SessionID, e.AuditID, string(e.Outcome), e.Vetoed, string(e.Reason), e.ElapsedMs, e.ContentHash,
		e.WrittenAt.UTC().Format(time.RFC3339Nano), doc,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteAuditStore) Get(ctx context.Context, sessionID string) (contracts.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE session_id = ?`, sessionID)
	return scanEntry(row)
}

// List returns up to limit entries, newest first.
func (s *SQLiteAuditStore) List(ctx context.Context, limit int) ([]contracts.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_entries ORDER BY written_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *SQLiteAuditStore) Close() error { return s.db.Close() }
