package contracts

import (
	"sort"
	"time"
)

// SessionState is a node of the orchestration state machine.
type SessionState string

const (
	StateIdle              SessionState = "IDLE"
	StateDirectiveReceived SessionState = "DIRECTIVE_RECEIVED"
	StateValidation        SessionState = "VALIDATION"
	StateQuorum            SessionState = "QUORUM"
	StateExecution         SessionState = "EXECUTION"
	StateAudit             SessionState = "AUDIT"
	StateComplete          SessionState = "COMPLETE"
	StateVeto              SessionState = "VETO"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s SessionState) IsTerminal() bool {
	return s == StateComplete || s == StateVeto
}

var allowedTransitions = map[SessionState][]SessionState{
	StateIdle:              {StateDirectiveReceived},
	StateDirectiveReceived: {StateValidation},
	StateValidation:        {StateQuorum, StateVeto},
	StateQuorum:            {StateExecution, StateVeto},
	StateExecution:         {StateAudit},
	StateAudit:             {StateComplete, StateVeto},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to SessionState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateTransition is one recorded edge in a session history.
type StateTransition struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
	At   time.Time    `json:"at"`
	Note string       `json:"note,omitempty"`
}

// SessionResult is what a submission returns to its caller.
type SessionResult struct {
	SessionID  string       `json:"session_id"`
	FinalState SessionState `json:"final_state"`
	Votes      []NodeVote   `json:"votes"`
	ElapsedMs  int64        `json:"elapsed_ms"`
	AuditID    string       `json:"audit_ref"`
	VetoReason VetoReason   `json:"veto_reason,omitempty"`
}

// SessionRecord is the read-only view served by status queries.
type SessionRecord struct {
	SessionID string            `json:"session_id"`
	Directive Directive         `json:"directive"`
	State     SessionState      `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	Deadline  time.Time         `json:"deadline"`
	History   []StateTransition `json:"history"`
	Result    *SessionResult    `json:"result,omitempty"`
}

// SortedVotes flattens a vote map ordered by voter id.
func SortedVotes(votes map[string]NodeVote) []NodeVote {
	out := make([]NodeVote, 0, len(votes))
	for _, v := range votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out
}
