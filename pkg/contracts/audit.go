package contracts

import "time"

// AuditEntry is the durable record of one terminal session.
// Append-only: stores deduplicate on SessionID and never update.
type AuditEntry struct {
	AuditID        string           `json:"audit_id"`
	SessionID      string           `json:"session_id"`
	Directive      Directive        `json:"directive"`
	Votes          []NodeVote       `json:"votes"`
	ElapsedMs      int64            `json:"elapsed_ms"`
	Outcome        SessionState     `json:"outcome"`
	Consensus      ConsensusOutcome `json:"consensus"`
	QuorumRequired int              `json:"quorum_required"`
	QuorumAchieved bool             `json:"quorum_achieved"`
	Vetoed         bool             `json:"vetoed"`
	Reason         VetoReason       `json:"reason,omitempty"`
	ContentHash    string           `json:"content_hash"`
	WrittenAt      time.Time        `json:"written_at"`
}
