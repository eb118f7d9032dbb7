//go:build property
// +build property

package consensus

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

var voteTypes = []contracts.VoteType{contracts.VoteApprove, contracts.VoteReject, contracts.VoteAbstain}

func genVoteType() gopter.Gen {
	return gen.IntRange(0, len(voteTypes)-1).Map(func(i int) contracts.VoteType {
		return voteTypes[i]
	})
}

func TestTallyProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)

	toVotes := func(types []contracts.VoteType) map[string]contracts.NodeVote {
		votes := make(map[string]contracts.NodeVote, len(types))
		for i, vt := range types {
			id := fmt.Sprintf("n%d", i)
			votes[id] = contracts.NodeVote{VoterID: id, VoteType: vt}
		}
		return votes
	}

	properties.Property("passes iff approvals reach k", prop.ForAll(
		func(types []contracts.VoteType, k int) bool {
			approvals := 0
			for _, vt := range types {
				if vt == contracts.VoteApprove {
					approvals++
				}
			}
			r := Tally(toVotes(types), k)
			return (r.Outcome == contracts.OutcomePassed) == (approvals >= k)
		},
		gen.SliceOf(genVoteType()),
		gen.IntRange(1, 20),
	))

	properties.Property("counts partition the vote set", prop.ForAll(
		func(types []contracts.VoteType, k int) bool {
			r := Tally(toVotes(types), k)
			return r.ApproveCount+r.RejectCount+r.AbstainCount == len(types)
		},
		gen.SliceOf(genVoteType()),
		gen.IntRange(1, 20),
	))

	properties.Property("turning an abstain into a reject never changes the outcome", prop.ForAll(
		func(types []contracts.VoteType, k int) bool {
			before := Tally(toVotes(types), k).Outcome
			flipped := make([]contracts.VoteType, len(types))
			for i, vt := range types {
				if vt == contracts.VoteAbstain {
					vt = contracts.VoteReject
				}
				flipped[i] = vt
			}
			return Tally(toVotes(flipped), k).Outcome == before
		},
		gen.SliceOf(genVoteType()),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
