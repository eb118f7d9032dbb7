package nodes

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// StaticNode returns a fixed verdict, optionally after a delay or with a
// fixed error. Used for stubbed providers and fixtures.
type StaticNode struct {
	id        string
	vote      contracts.VoteType
	rationale string
	delay     time.Duration
	err       error
}

// StaticOption customizes a StaticNode.
type StaticOption func(*StaticNode)

// WithDelay makes the node wait d before answering.
func WithDelay(d time.Duration) StaticOption {
	return func(n *StaticNode) { n.delay = d }
}

// WithRationale sets the rationale attached to the vote.
func WithRationale(r string) StaticOption {
	return func(n *StaticNode) { n.rationale = r }
}

// WithError makes every evaluation fail with err.
func WithError(err error) StaticOption {
	return func(n *StaticNode) { n.err = err }
}

// NewStaticNode creates a node that always votes v.
func NewStaticNode(id string, v contracts.VoteType, opts ...StaticOption) *StaticNode {
	n := &StaticNode{id: id, vote: v}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *StaticNode) ID() string { return n.id }

func (n *StaticNode) Evaluate(ctx context.Context, _ contracts.Directive) (contracts.NodeVote, error) {
	if n.delay > 0 {
		timer := time.NewTimer(n.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return contracts.NodeVote{}, ctx.Err()
		case <-timer.C:
		}
	}
	if n.err != nil {
		return contracts.NodeVote{}, n.err
	}
	return contracts.NodeVote{
		VoterID:   n.id,
		VoteType:  n.vote,
		Rationale: n.rationale,
	}, nil
}
