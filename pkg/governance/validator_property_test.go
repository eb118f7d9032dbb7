//go:build property
// +build property

package governance

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/lattice/pkg/consensus"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

func TestValidateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	v := NewValidator(contracts.DefaultConstraints())
	ctx := context.Background()
	s := contracts.SessionRecord{SessionID: "s"}

	tally := func(approvals int) consensus.Result {
		votes := map[string]contracts.NodeVote{}
		for i := 0; i < approvals; i++ {
			id := string(rune('a' + i))
			votes[id] = contracts.NodeVote{VoterID: id, VoteType: contracts.VoteApprove}
		}
		return consensus.Tally(votes, 3)
	}

	properties.Property("over budget always vetoes for response time", prop.ForAll(
		func(elapsed int64, approvals int, audit bool) bool {
			d := v.Validate(ctx, s, elapsed, tally(approvals), audit)
			return d.Vetoed && d.Reason == contracts.VetoResponseTimeViolation
		},
		gen.Int64Range(2000, 100000),
		gen.IntRange(0, 7),
		gen.Bool(),
	))

	properties.Property("within budget and below quorum vetoes for quorum", prop.ForAll(
		func(elapsed int64, approvals int, audit bool) bool {
			d := v.Validate(ctx, s, elapsed, tally(approvals), audit)
			return d.Vetoed && d.Reason == contracts.VetoQuorumNotMet
		},
		gen.Int64Range(0, 1999),
		gen.IntRange(0, 2),
		gen.Bool(),
	))

	properties.Property("within budget, quorum met and audit available never vetoes", prop.ForAll(
		func(elapsed int64, approvals int) bool {
			return !v.Validate(ctx, s, elapsed, tally(approvals), true).Vetoed
		},
		gen.Int64Range(0, 1999),
		gen.IntRange(3, 7),
	))

	properties.TestingRun(t)
}
