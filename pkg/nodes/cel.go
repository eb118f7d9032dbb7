package nodes

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/rules"
)

// CELNode is a rule-backed advisor. reject_if is evaluated first so a
// directive matching both expressions is rejected; if neither matches the
// node abstains.
type CELNode struct {
	id        string
	approveIf *rules.Predicate
	rejectIf  *rules.Predicate
}

// NewCELNode compiles the expressions once. Either may be empty, not both.
func NewCELNode(env *rules.Env, id, approveIf, rejectIf string) (*CELNode, error) {
	if approveIf == "" && rejectIf == "" {
		return nil, fmt.Errorf("cel node %q: no expressions", id)
	}
	n := &CELNode{id: id}
	var err error
	if approveIf != "" {
		if n.approveIf, err = env.Compile(approveIf); err != nil {
			return nil, fmt.Errorf("cel node %q approve_if: %w", id, err)
		}
	}
	if rejectIf != "" {
		if n.rejectIf, err = env.Compile(rejectIf); err != nil {
			return nil, fmt.Errorf("cel node %q reject_if: %w", id, err)
		}
	}
	return n, nil
}

func (n *CELNode) ID() string { return n.id }

func (n *CELNode) Evaluate(ctx context.Context, d contracts.Directive) (contracts.NodeVote, error) {
	if err := ctx.Err(); err != nil {
		return contracts.NodeVote{}, err
	}

	if n.rejectIf != nil {
		hit, err := n.rejectIf.Eval(d)
		if err != nil {
			return contracts.NodeVote{}, err
		}
		if hit {
			return contracts.NodeVote{VoterID: n.id, VoteType: contracts.VoteReject, Rationale: "matched " + n.rejectIf.Expr()}, nil
		}
	}
	if n.approveIf != nil {
		hit, err := n.approveIf.Eval(d)
		if err != nil {
			return contracts.NodeVote{}, err
		}
		if hit {
			return contracts.NodeVote{VoterID: n.id, VoteType: contracts.VoteApprove, Rationale: "matched " + n.approveIf.Expr()}, nil
		}
	}
	return contracts.NodeVote{VoterID: n.id, VoteType: contracts.VoteAbstain, Rationale: "no rule matched"}, nil
}
