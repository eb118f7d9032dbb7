// Package audit translates terminal sessions into audit entries and delivers
// them to a durable store without ever blocking the session that produced
// them.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// Store is the durable append-only log. Append must be idempotent on
// entry.SessionID because the sink retries.
type Store interface {
	Append(ctx context.Context, entry contracts.AuditEntry) error
}

// NewEntry snapshots a terminal session. The content hash covers every
// field except ContentHash itself and is computed over the RFC 8785
// canonical JSON form so any store can re-verify it.
func NewEntry(session contracts.SessionRecord, round contracts.ConsensusRound, decision contracts.VetoDecision, finalState contracts.SessionState, elapsedMs int64, writtenAt time.Time) (contracts.AuditEntry, error) {
	entry := contracts.AuditEntry{
		AuditID:        uuid.New().String(),
		SessionID:      session.SessionID,
		Directive:      session.Directive,
		Votes:          contracts.SortedVotes(round.Votes),
		ElapsedMs:      elapsedMs,
		Outcome:        finalState,
		Consensus:      round.Outcome,
		QuorumRequired: round.RequiredVotes,
		QuorumAchieved: round.Outcome == contracts.OutcomePassed,
		Vetoed:         decision.Vetoed,
		Reason:         decision.Reason,
		WrittenAt:      writtenAt.UTC(),
	}

	hash, err := ContentHash(entry)
	if err != nil {
		return contracts.AuditEntry{}, err
	}
	entry.ContentHash = hash
	return entry, nil
}

// ContentHash returns "sha256:<hex>" of the canonical entry body.
func ContentHash(entry contracts.AuditEntry) (string, error) {
	entry.ContentHash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the content hash of a stored entry.
func Verify(entry contracts.AuditEntry) (bool, error) {
	want, err := ContentHash(entry)
	if err != nil {
		return false, err
	}
	return want == entry.ContentHash, nil
}
