// Package store implements the durable audit log behind the audit sink.
//
// Every backend is append-only and idempotent on session id: appending an
// entry for a session that is already recorded is a successful no-op, which
// is what makes the sink's retries safe.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/lattice/pkg/config"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

var (
	ErrNotFound    = errors.New("audit entry not found")
	ErrChainBroken = errors.New("hash chain is broken")
)

// AuditStore is a durable audit backend.
type AuditStore interface {
	Append(ctx context.Context, entry contracts.AuditEntry) error
	Close() error
}

// Reader is implemented by backends that can serve entries back.
type Reader interface {
	Get(ctx context.Context, sessionID string) (contracts.AuditEntry, error)
	List(ctx context.Context, limit int) ([]contracts.AuditEntry, error)
}

// Open builds the backend selected by cfg. Backend "none" returns a nil
// store, which leaves the audit trail unavailable.
func Open(ctx context.Context, cfg config.AuditConfig) (AuditStore, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory, "":
		return NewMemoryAuditStore(), nil
	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s, err := NewSQLiteAuditStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s := NewPostgresAuditStore(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case config.BackendS3:
		s, err := NewS3AuditStore(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendGCS:
		return newGCSAuditStore(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}
}

// objectKey is the object-storage key of a session's entry.
func objectKey(prefix, sessionID string) string {
	return prefix + sessionID + ".json"
}
