package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/nodes"
)

// funcNode adapts a function to nodes.Node.
type funcNode struct {
	id string
	fn func(ctx context.Context, d contracts.Directive) (contracts.NodeVote, error)
}

func (f funcNode) ID() string { return f.id }

func (f funcNode) Evaluate(ctx context.Context, d contracts.Directive) (contracts.NodeVote, error) {
	return f.fn(ctx, d)
}

var testDirective = contracts.Directive{ID: "d-1", Text: "expand", SubmittedAt: time.Now().UTC()}

func TestDispatch_AllRespond(t *testing.T) {
	targets := []nodes.Node{
		nodes.NewStaticNode("a", contracts.VoteApprove),
		nodes.NewStaticNode("b", contracts.VoteReject),
		nodes.NewStaticNode("c", contracts.VoteAbstain),
	}

	votes := New().Dispatch(context.Background(), testDirective, targets, time.Now().Add(time.Second))

	require.Len(t, votes, 3)
	assert.Equal(t, contracts.VoteApprove, votes["a"].VoteType)
	assert.Equal(t, contracts.VoteReject, votes["b"].VoteType)
	assert.Equal(t, contracts.VoteAbstain, votes["c"].VoteType)
	for id, v := range votes {
		assert.Equal(t, id, v.VoterID)
		assert.Empty(t, v.Error)
	}
}

func TestDispatch_TimeoutsBecomeAbstain(t *testing.T) {
	targets := []nodes.Node{
		nodes.NewStaticNode("fast-1", contracts.VoteApprove),
		nodes.NewStaticNode("fast-2", contracts.VoteApprove),
		nodes.NewStaticNode("slow-1", contracts.VoteApprove, nodes.WithDelay(time.Hour)),
		nodes.NewStaticNode("slow-2", contracts.VoteApprove, nodes.WithDelay(time.Hour)),
	}

	start := time.Now()
	votes := New().Dispatch(context.Background(), testDirective, targets, start.Add(50*time.Millisecond))
	elapsed := time.Since(start)

	require.Len(t, votes, 4)
	assert.Equal(t, contracts.VoteApprove, votes["fast-1"].VoteType)
	assert.Equal(t, contracts.VoteApprove, votes["fast-2"].VoteType)
	for _, id := range []string{"slow-1", "slow-2"} {
		assert.Equal(t, contracts.VoteAbstain, votes[id].VoteType, id)
		assert.Equal(t, contracts.TimeoutError, votes[id].Error, id)
	}
	assert.Less(t, elapsed, time.Second, "barrier must not wait for slow nodes")
}

func TestDispatch_ErrorsNeverPromoted(t *testing.T) {
	targets := []nodes.Node{
		nodes.NewStaticNode("broken", contracts.VoteReject, nodes.WithError(errors.New("provider unavailable"))),
		funcNode{id: "liar", fn: func(context.Context, contracts.Directive) (contracts.NodeVote, error) {
			return contracts.NodeVote{VoteType: "YES"}, nil
		}},
		funcNode{id: "panicker", fn: func(context.Context, contracts.Directive) (contracts.NodeVote, error) {
			panic("kaboom")
		}},
	}

	votes := New().Dispatch(context.Background(), testDirective, targets, time.Now().Add(time.Second))

	require.Len(t, votes, 3)
	for id, v := range votes {
		assert.Equal(t, contracts.VoteAbstain, v.VoteType, id)
		assert.NotEmpty(t, v.Error, id)
	}
	assert.Contains(t, votes["broken"].Error, "provider unavailable")
	assert.Contains(t, votes["liar"].Error, "invalid vote type")
	assert.Contains(t, votes["panicker"].Error, "kaboom")
}

func TestDispatch_NodeCannotVoteAsAnother(t *testing.T) {
	impostor := funcNode{id: "real-id", fn: func(context.Context, contracts.Directive) (contracts.NodeVote, error) {
		return contracts.NodeVote{VoterID: "someone-else", VoteType: contracts.VoteApprove}, nil
	}}

	votes := New().Dispatch(context.Background(), testDirective, []nodes.Node{impostor}, time.Now().Add(time.Second))

	require.Len(t, votes, 1)
	v, ok := votes["real-id"]
	require.True(t, ok)
	assert.Equal(t, "real-id", v.VoterID)
}

func TestDispatch_CancelsOutstandingCalls(t *testing.T) {
	var cancelled atomic.Int32
	release := make(chan struct{})
	defer close(release)

	blocker := funcNode{id: "blocker", fn: func(ctx context.Context, _ contracts.Directive) (contracts.NodeVote, error) {
		<-ctx.Done()
		cancelled.Add(1)
		<-release
		return contracts.NodeVote{}, ctx.Err()
	}}

	votes := New().Dispatch(context.Background(), testDirective, []nodes.Node{blocker}, time.Now().Add(20*time.Millisecond))
	assert.Equal(t, contracts.TimeoutError, votes["blocker"].Error)

	assert.Eventually(t, func() bool { return cancelled.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatch_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	targets := []nodes.Node{nodes.NewStaticNode("slow", contracts.VoteApprove, nodes.WithDelay(time.Hour))}
	votes := New().Dispatch(ctx, testDirective, targets, time.Now().Add(time.Hour))

	assert.Equal(t, contracts.VoteAbstain, votes["slow"].VoteType)
	assert.Equal(t, contracts.CanceledError, votes["slow"].Error)
}

func TestCutoffCause(t *testing.T) {
	assert.Equal(t, contracts.ErrTimeout, cutoffCause(context.DeadlineExceeded))
	assert.Equal(t, contracts.ErrCanceled, cutoffCause(context.Canceled))
	assert.Equal(t, contracts.ErrCanceled, cutoffCause(fmt.Errorf("eval: %w", context.Canceled)))
	assert.Equal(t, contracts.ErrTimeout, cutoffCause(&contracts.NodeCallError{NodeID: "n", Err: contracts.ErrTimeout}))
	assert.Equal(t, contracts.TimeoutError, cutoffCause(context.DeadlineExceeded).Error())
}

func TestDispatch_PassesSameDirective(t *testing.T) {
	seen := make(chan string, 5)
	targets := make([]nodes.Node, 5)
	for i := range targets {
		targets[i] = funcNode{id: fmt.Sprintf("n%d", i), fn: func(_ context.Context, d contracts.Directive) (contracts.NodeVote, error) {
			seen <- d.ID
			return contracts.NodeVote{VoteType: contracts.VoteApprove}, nil
		}}
	}

	New().Dispatch(context.Background(), testDirective, targets, time.Now().Add(time.Second))
	close(seen)
	for id := range seen {
		assert.Equal(t, testDirective.ID, id)
	}
}

func TestDispatch_ConcurrentSessionsIsolated(t *testing.T) {
	d := New()
	const sessions = 20

	type outcome struct {
		want  contracts.VoteType
		votes map[string]contracts.NodeVote
	}
	out := make(chan outcome, sessions)

	for i := 0; i < sessions; i++ {
		want := contracts.VoteApprove
		if i%2 == 1 {
			want = contracts.VoteReject
		}
		go func(want contracts.VoteType) {
			targets := []nodes.Node{
				nodes.NewStaticNode("a", want, nodes.WithDelay(time.Millisecond)),
				nodes.NewStaticNode("b", want),
				nodes.NewStaticNode("c", want),
			}
			out <- outcome{want: want, votes: d.Dispatch(context.Background(), testDirective, targets, time.Now().Add(time.Second))}
		}(want)
	}

	for i := 0; i < sessions; i++ {
		o := <-out
		require.Len(t, o.votes, 3)
		for _, v := range o.votes {
			assert.Equal(t, o.want, v.VoteType)
		}
	}
}
