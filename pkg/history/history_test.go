package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

func record(id string) contracts.SessionRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return contracts.SessionRecord{
		SessionID: id,
		Directive: contracts.Directive{ID: "d-" + id, Text: "expand"},
		State:     contracts.StateComplete,
		CreatedAt: now,
		History: []contracts.StateTransition{
			{From: contracts.StateIdle, To: contracts.StateDirectiveReceived, At: now},
		},
		Result: &contracts.SessionResult{
			SessionID:  id,
			FinalState: contracts.StateComplete,
			Votes:      []contracts.NodeVote{{VoterID: "spci", VoteType: contracts.VoteApprove}},
		},
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("s-1")))
	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateComplete, got.State)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrSessionNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	rec := record("s-1")
	require.NoError(t, s.Save(ctx, rec))

	rec.History[0].Note = "mutated"
	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, got.History[0].Note)

	got.Result.Votes[0].VoteType = contracts.VoteReject
	again, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.VoteApprove, again.Result.Votes[0].VoteType)
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Save(ctx, record(fmt.Sprintf("s-%d", i))))
	}
	// Updating an existing session does not evict.
	require.NoError(t, s.Save(ctx, record("s-4")))

	assert.Equal(t, 3, s.Len())
	_, err := s.Get(ctx, "s-1")
	assert.ErrorIs(t, err, contracts.ErrSessionNotFound)
	_, err = s.Get(ctx, "s-2")
	assert.NoError(t, err)
}

// TestRedisStore_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisStore_Integration(t *testing.T) {
	s := NewRedisStore("localhost:6379", "", 0, time.Minute)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	id := uuid.NewString()
	rec := record(id)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, rec.State, got.State)
	require.NotNil(t, got.Result)
	assert.Equal(t, rec.Result.Votes, got.Result.Votes)

	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, contracts.ErrSessionNotFound)
}
