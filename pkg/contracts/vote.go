package contracts

// VoteType is the closed set of advisory node verdicts.
type VoteType string

const (
	VoteApprove VoteType = "APPROVE"
	VoteReject  VoteType = "REJECT"
	VoteAbstain VoteType = "ABSTAIN"
)

// Valid reports whether v is one of the three known vote types.
func (v VoteType) Valid() bool {
	switch v {
	case VoteApprove, VoteReject, VoteAbstain:
		return true
	default:
		return false
	}
}

const (
	// TimeoutError is the error string recorded on votes whose node did not
	// answer before the fan-out barrier closed.
	TimeoutError = "timeout"
	// CanceledError is recorded when the caller abandoned the session
	// before the node answered.
	CanceledError = "canceled"
)

// NodeVote is produced by exactly one node call per session.
type NodeVote struct {
	VoterID   string   `json:"voter_id"`
	VoteType  VoteType `json:"vote_type"`
	Rationale string   `json:"rationale,omitempty"`
	LatencyMs int64    `json:"latency_ms"`
	Error     string   `json:"error,omitempty"`
}

// Abstain builds an ABSTAIN vote carrying a captured failure.
func Abstain(voterID string, latencyMs int64, reason string) NodeVote {
	return NodeVote{
		VoterID:   voterID,
		VoteType:  VoteAbstain,
		LatencyMs: latencyMs,
		Error:     reason,
	}
}

// ConsensusOutcome is the result of tallying a round.
type ConsensusOutcome string

const (
	OutcomePending ConsensusOutcome = "PENDING"
	OutcomePassed  ConsensusOutcome = "PASSED"
	OutcomeFailed  ConsensusOutcome = "FAILED"
)

// ConsensusRound is the single tally owned by a session.
type ConsensusRound struct {
	SessionID     string              `json:"session_id"`
	RequiredVotes int                 `json:"required_votes"`
	Votes         map[string]NodeVote `json:"votes"`
	Outcome       ConsensusOutcome    `json:"outcome"`
	ApproveCount  int                 `json:"approve_count"`
	RejectCount   int                 `json:"reject_count"`
	AbstainCount  int                 `json:"abstain_count"`
}

// CopyVotes returns an independent copy of a vote set.
func CopyVotes(votes map[string]NodeVote) map[string]NodeVote {
	out := make(map[string]NodeVote, len(votes))
	for id, v := range votes {
		out[id] = v
	}
	return out
}
