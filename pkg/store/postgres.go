package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresAuditStore is the shared server backend.
type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Migrate creates the audit table if it does not exist.
func (s *PostgresAuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			session_id TEXT PRIMARY KEY,
			audit_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			vetoed BOOLEAN NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			elapsed_ms BIGINT NOT NULL,
			content_hash TEXT NOT NULL,
			written_at TIMESTAMPTZ NOT NULL,
			entry JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate postgres audit store: %w", err)
	}
	return nil
}

// Append inserts entry; ON CONFLICT keeps the first write for a session.
func (s *PostgresAuditStore) Append(ctx context.Context, e contracts.AuditEntry) error {
	doc, err := encodeEntry(e)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_entries (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		e.SessionID, e.AuditID, string(e.Outcome), e.Vetoed, string(e.Reason), e.ElapsedMs, e.ContentHash,
		e.WrittenAt.UTC(), doc,
	)
	if err != nil {
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) Get(ctx context.Context, sessionID string) (contracts.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, audit_id, outcome, vetoed, reason, elapsed_ms, content_hash, written_at::text, entry::text FROM audit_entries WHERE session_id = $1`,
		sessionID)
	return scanEntry(row)
}

// List returns up to limit entries, newest first.
func (s *PostgresAuditStore) List(ctx context.Context, limit int) ([]contracts.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, audit_id, outcome, vetoed, reason, elapsed_ms, content_hash, written_at::text, entry::text FROM audit_entries ORDER BY written_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *PostgresAuditStore) Close() error { return s.db.Close() }
