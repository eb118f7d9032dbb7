// Package consensus tallies node votes against a flat quorum.
//
// Only APPROVE counts toward k. REJECT and ABSTAIN are kept for audit but
// have no weight, and k is an absolute count independent of how many nodes
// are registered.
package consensus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

var (
	// ErrSealed is returned when recording into a sealed round.
	ErrSealed = errors.New("consensus round is sealed")
	// ErrDuplicateVote is returned when a voter has already been recorded.
	ErrDuplicateVote = errors.New("duplicate vote")
)

// Result is the outcome of a tally together with its counts.
type Result struct {
	Outcome      contracts.ConsensusOutcome
	ApproveCount int
	RejectCount  int
	AbstainCount int
}

// Tally counts votes. PASSED iff approvals >= k. Votes with an unknown type
// are counted as abstentions.
func Tally(votes map[string]contracts.NodeVote, k int) Result {
	var r Result
	for _, v := range votes {
		switch v.VoteType {
		case contracts.VoteApprove:
			r.ApproveCount++
		case contracts.VoteReject:
			r.RejectCount++
		default:
			r.AbstainCount++
		}
	}
	if k > 0 && r.ApproveCount >= k {
		r.Outcome = contracts.OutcomePassed
	} else {
		r.Outcome = contracts.OutcomeFailed
	}
	return r
}

// CheckQuorum fails when k can never be reached with the registered nodes.
// It runs once at startup.
func CheckQuorum(k, registered int) error {
	if k < 1 {
		return fmt.Errorf("required quorum must be >= 1, got %d", k)
	}
	if k > registered {
		return &contracts.QuorumMisconfigurationError{Required: k, Registered: registered}
	}
	return nil
}

// Round is the single consensus round of one session. It accepts each
// voter once and is sealed exactly once.
type Round struct {
	mu     sync.Mutex
	round  contracts.ConsensusRound
	sealed bool
}

// NewRound opens a PENDING round.
func NewRound(sessionID string, k int) *Round {
	return &Round{round: contracts.ConsensusRound{
		SessionID:     sessionID,
		RequiredVotes: k,
		Votes:         make(map[string]contracts.NodeVote),
		Outcome:       contracts.OutcomePending,
	}}
}

// Record adds one vote.
func (r *Round) Record(v contracts.NodeVote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.round.Votes[v.VoterID]; ok {
		return fmt.Errorf("%w from %s", ErrDuplicateVote, v.VoterID)
	}
	r.round.Votes[v.VoterID] = v
	return nil
}

// RecordAll adds a complete vote set, stopping at the first error.
func (r *Round) RecordAll(votes map[string]contracts.NodeVote) error {
	for _, v := range contracts.SortedVotes(votes) {
		if err := r.Record(v); err != nil {
			return err
		}
	}
	return nil
}

// Seal computes the outcome and freezes the round. Sealing twice returns
// the same snapshot.
func (r *Round) Seal() contracts.ConsensusRound {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sealed {
		res := Tally(r.round.Votes, r.round.RequiredVotes)
		r.round.Outcome = res.Outcome
		r.round.ApproveCount = res.ApproveCount
		r.round.RejectCount = res.RejectCount
		r.round.AbstainCount = res.AbstainCount
		r.sealed = true
	}
	return r.snapshot()
}

// Snapshot returns a copy of the round in its current state.
func (r *Round) Snapshot() contracts.ConsensusRound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Round) snapshot() contracts.ConsensusRound {
	out := r.round
	out.Votes = contracts.CopyVotes(r.round.Votes)
	return out
}
