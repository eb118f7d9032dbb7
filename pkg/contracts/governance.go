package contracts

// GovernanceConstraints is process-wide, read-only configuration.
type GovernanceConstraints struct {
	MaxResponseTimeMs int64 `json:"max_response_time_ms"`
	RequiredQuorum    int   `json:"required_quorum"`
	AuditRequired     bool  `json:"audit_required"`
}

// DefaultConstraints returns the documented defaults: 2000ms budget, k=3,
// audit trail required.
func DefaultConstraints() GovernanceConstraints {
	return GovernanceConstraints{
		MaxResponseTimeMs: 2000,
		RequiredQuorum:    3,
		AuditRequired:     true,
	}
}

// VetoReason is the closed set of governance veto causes.
type VetoReason string

const (
	VetoResponseTimeViolation VetoReason = "RESPONSE_TIME_VIOLATION"
	VetoQuorumNotMet          VetoReason = "QUORUM_NOT_MET"
	VetoAuditTrailUnavailable VetoReason = "AUDIT_TRAIL_UNAVAILABLE"
	VetoComplianceViolation   VetoReason = "COMPLIANCE_VIOLATION"
)

// VetoDecision is produced exactly once per session by the validator.
type VetoDecision struct {
	SessionID string            `json:"session_id"`
	Vetoed    bool              `json:"vetoed"`
	Reason    VetoReason        `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}
