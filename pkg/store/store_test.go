package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/lattice/pkg/config"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

func sampleEntry(sessionID string, written time.Time) contracts.AuditEntry {
	return contracts.AuditEntry{
		AuditID:   "audit-" + sessionID,
		SessionID: sessionID,
		Directive: contracts.Directive{ID: "d-" + sessionID, Text: "expand", SubmittedAt: written},
		Votes: []contracts.NodeVote{
			{VoterID: "spci", VoteType: contracts.VoteApprove, LatencyMs: 12},
			{VoterID: "gov-engine", VoteType: contracts.VoteAbstain, Error: contracts.TimeoutError},
		},
		ElapsedMs:      120,
		Outcome:        contracts.StateComplete,
		Consensus:      contracts.OutcomePassed,
		QuorumRequired: 1,
		QuorumAchieved: true,
		ContentHash:    "sha256:abc",
		WrittenAt:      written.UTC(),
	}
}

func TestMemoryAuditStore(t *testing.T) {
	s := NewMemoryAuditStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, sampleEntry("s-1", now)))
	require.NoError(t, s.Append(ctx, sampleEntry("s-2", now)))
	head := s.ChainHead()

	// Retried append for the same session is a no-op.
	dup := sampleEntry("s-1", now)
	dup.AuditID = "other"
	require.NoError(t, s.Append(ctx, dup))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, head, s.ChainHead())

	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "audit-s-1", got.AuditID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s-2", list[0].SessionID)

	require.NoError(t, s.VerifyChain())
}

func TestMemoryAuditStore_DetectsTampering(t *testing.T) {
	s := NewMemoryAuditStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, sampleEntry(fmt.Sprintf("s-%d", i), time.Now())))
	}

	s.entries[1].Entry.Outcome = contracts.StateVeto
	assert.ErrorIs(t, s.VerifyChain(), ErrChainBroken)
}

func TestMemoryAuditStore_ConcurrentAppends(t *testing.T) {
	s := NewMemoryAuditStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(context.Background(), sampleEntry(fmt.Sprintf("s-%d", i%25), time.Now()))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, s.Len())
	assert.NoError(t, s.VerifyChain())
}

func TestSQLiteAuditStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	s, err := NewSQLiteAuditStore(ctx, db)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, sampleEntry("s-1", base)))
	require.NoError(t, s.Append(ctx, sampleEntry("s-2", base.Add(time.Minute))))

	dup := sampleEntry("s-1", base)
	dup.AuditID = "second-write"
	require.NoError(t, s.Append(ctx, dup), "duplicate append must be ignored, not fail")

	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "audit-s-1", got.AuditID)
	assert.Equal(t, contracts.StateComplete, got.Outcome)
	require.Len(t, got.Votes, 2)
	assert.Equal(t, contracts.TimeoutError, got.Votes[1].Error)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s-2", list[0].SessionID)
}

func TestPostgresAuditStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresAuditStore(db)
	e := sampleEntry("s-1", time.Now())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WithArgs("s-1", "audit-s-1", "COMPLETE", false, "", int64(120), "sha256:abc", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Append(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_AppendIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresAuditStore(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (session_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Append(context.Background(), sampleEntry("s-1", time.Now())))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_AppendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnError(errors.New("connection refused"))

	err = NewPostgresAuditStore(db).Append(context.Background(), sampleEntry("s-1", time.Now()))
	assert.ErrorContains(t, err, "connection refused")
}

func TestPostgresAuditStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresAuditStore(db)
	e := sampleEntry("s-1", time.Now())
	doc, err := encodeEntry(e)
	require.NoError(t, err)

	cols := []string{"session_id", "audit_id", "outcome", "vetoed", "reason", "elapsed_ms", "content_hash", "written_at", "entry"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_entries WHERE session_id = $1")).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s-1", "audit-s-1", "COMPLETE", false, "", 120, "sha256:abc", "2026-05-01", doc))

	got, err := s.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, e.AuditID, got.AuditID)
	assert.Equal(t, e.Votes, got.Votes)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_entries WHERE session_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresAuditStore(db).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	headErr error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestS3AuditStore(t *testing.T) {
	fake := newFakeS3()
	s := newS3AuditStore(fake, "audit-bucket", "lattice/")
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleEntry("s-1", time.Now())))
	require.NoError(t, s.Append(ctx, sampleEntry("s-1", time.Now())))
	assert.Equal(t, 1, fake.puts, "second append for a session must not upload")
	assert.Contains(t, fake.objects, "lattice/s-1.json")

	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "audit-s-1", got.AuditID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3AuditStore_HeadFailureIsRetryable(t *testing.T) {
	fake := newFakeS3()
	fake.headErr = errors.New("throttled")
	s := newS3AuditStore(fake, "b", "")

	err := s.Append(context.Background(), sampleEntry("s-1", time.Now()))
	assert.Error(t, err)
	assert.Equal(t, 0, fake.puts)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.AuditConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryAuditStore{}, s)

	s, err = Open(ctx, config.AuditConfig{Backend: config.BackendNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, config.AuditConfig{Backend: config.BackendSQLite, DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteAuditStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.AuditConfig{Backend: "tape"})
	assert.Error(t, err)
}
