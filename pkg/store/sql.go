package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// Entry documents are shared by every backend. Both SQL backends keep the indexed summary columns next to the full
// entry document so Get can return exactly what was appended.
const auditColumns = "session_id, audit_id, outcome, vetoed, reason, elapsed_ms, content_hash, written_at, entry"

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeEntry(e contracts.AuditEntry) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	return string(raw), nil
}

func decodeEntry(raw []byte) (contracts.AuditEntry, error) {
	var e contracts.AuditEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return contracts.AuditEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	return e, nil
}

func scanEntry(row rowScanner) (contracts.AuditEntry, error) {
	var (
		sessionID, auditID, outcome, reason, contentHash, writtenAt, doc string

		vetoed  bool
		elapsed int64
	)
	err := row.Scan(&sessionID, &auditID, &outcome, &vetoed, &reason, &elapsed, &contentHash, &writtenAt, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.AuditEntry{}, ErrNotFound
	}
	if err != nil {
		return contracts.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	return decodeEntry([]byte(doc))
}

func scanEntries(rows *sql.Rows) ([]contracts.AuditEntry, error) {
	defer func() { _ = rows.Close() }()

	var out []contracts.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
