// Package orchestrator runs the session lifecycle: it accepts a directive,
// fans it out to the advisory nodes, tallies consensus, applies the
// governance veto and hands the outcome to the audit sink.
//
// Sessions share nothing mutable. Each Submit owns its record, vote map and
// consensus round; the registry and constraints are read-only.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/lattice/pkg/audit"
	"github.com/Mindburn-Labs/lattice/pkg/consensus"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/dispatch"
	"github.com/Mindburn-Labs/lattice/pkg/governance"
	"github.com/Mindburn-Labs/lattice/pkg/history"
	"github.com/Mindburn-Labs/lattice/pkg/nodes"
	"github.com/Mindburn-Labs/lattice/pkg/observability"
)

// DefaultDispatchReserve is the slice of the response budget kept back
// from the fan-out so the session can reach its verdict before the budget
// runs out.
const DefaultDispatchReserve = 100 * time.Millisecond

// SubmitRequest is the caller input of one session.
type SubmitRequest struct {
	Text      string `json:"text"`
	DomainTag string `json:"domain_tag,omitempty"`
}

// Executor carries out an approved directive. Errors are logged and do not
// change the outcome already decided at QUORUM.
type Executor interface {
	Execute(ctx context.Context, session contracts.SessionRecord) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, session contracts.SessionRecord) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, session contracts.SessionRecord) error {
	return f(ctx, session)
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, contracts.SessionRecord) error { return nil }

// Orchestrator owns no per-session state; one value serves all sessions.
type Orchestrator struct {
	registry   *nodes.Registry
	validator  *governance.Validator
	dispatcher *dispatch.Dispatcher
	sink       *audit.Sink
	history    history.Store
	executor   Executor

	clock   func() time.Time
	reserve time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock for deterministic testing. The clock also
// drives the dispatch deadline, so it must advance with wall time.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithDispatchReserve overrides DefaultDispatchReserve.
func WithDispatchReserve(d time.Duration) Option {
	return func(o *Orchestrator) { o.reserve = d }
}

// WithExecutor plugs in the execution step.
func WithExecutor(e Executor) Option {
	return func(o *Orchestrator) { o.executor = e }
}

// WithMetrics records session counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New wires the session pipeline. It fails with a
// *contracts.QuorumMisconfigurationError when the required quorum can never
// be met by the registry. sink may be nil, in which case audit is
// unavailable.
func New(registry *nodes.Registry, validator *governance.Validator, dispatcher *dispatch.Dispatcher, sink *audit.Sink, store history.Store, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if validator == nil {
		return nil, errors.New("orchestrator: validator is required")
	}
	if err := consensus.CheckQuorum(validator.Constraints().RequiredQuorum, registry.Len()); err != nil {
		return nil, err
	}
	if dispatcher == nil {
		dispatcher = dispatch.New()
	}
	if store == nil {
		store = history.NewMemoryStore(0)
	}

	o := &Orchestrator{
		registry:   registry,
		validator:  validator,
		dispatcher: dispatcher,
		sink:       sink,
		history:    store,
		executor:   noopExecutor{},
		clock:      time.Now,
		reserve:    DefaultDispatchReserve,
		logger:     slog.Default().With("component", "orchestrator"),
		tracer:     otel.Tracer(observability.InstrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit runs one session to a terminal state. Only malformed input is
// returned as an error; every other failure is reported through
// FinalState and VetoReason.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (contracts.SessionResult, error) {
	directive, err := contracts.NewDirective(req.Text, req.DomainTag, o.clock())
	if err != nil {
		return contracts.SessionResult{}, err
	}

	s := o.newSession(directive)
	ctx, span := o.tracer.Start(ctx, "lattice.session", trace.WithAttributes(
		attribute.String("session.id", s.id()),
		attribute.String("directive.id", directive.ID),
	))
	defer span.End()
	o.metrics.SessionStarted(ctx)

	// Transitions before the barrier are kept in memory only; the first
	// history write happens once elapsed time is fixed.
	o.record(ctx, s, contracts.StateDirectiveReceived, "")

	constraints := o.validator.Constraints()
	budget := time.Duration(constraints.MaxResponseTimeMs) * time.Millisecond
	start := o.clock()
	s.setDeadline(start.Add(budget))
	o.record(ctx, s, contracts.StateValidation, "deadline timer started")

	fanout := budget - o.reserve
	if fanout <= 0 {
		fanout = budget
	}
	votes := o.dispatcher.Dispatch(ctx, directive, o.registry.Nodes(), start.Add(fanout))
	elapsedMs := o.clock().Sub(start).Milliseconds()
	o.save(ctx, s)

	round := consensus.NewRound(s.id(), constraints.RequiredQuorum)
	if err := round.RecordAll(votes); err != nil {
		o.logger.ErrorContext(ctx, "recording votes", "session_id", s.id(), "error", err)
	}
	sealed := round.Seal()
	tally := consensus.Result{
		Outcome:      sealed.Outcome,
		ApproveCount: sealed.ApproveCount,
		RejectCount:  sealed.RejectCount,
		AbstainCount: sealed.AbstainCount,
	}
	o.advance(ctx, s, contracts.StateQuorum, fmt.Sprintf("%s approve=%d reject=%d abstain=%d",
		tally.Outcome, tally.ApproveCount, tally.RejectCount, tally.AbstainCount))

	decision := o.validator.Validate(ctx, s.snapshot(), elapsedMs, tally, o.sink.Available())

	var final contracts.SessionState
	var auditID string
	if decision.Vetoed {
		final = contracts.StateVeto
		o.advance(ctx, s, contracts.StateVeto, string(decision.Reason))
		auditID = o.audit(ctx, s, sealed, decision, final, elapsedMs)
	} else {
		o.advance(ctx, s, contracts.StateExecution, "")
		if err := o.executor.Execute(ctx, s.snapshot()); err != nil {
			o.logger.WarnContext(ctx, "execution step failed", "session_id", s.id(), "error", err)
		}
		o.advance(ctx, s, contracts.StateAudit, "")
		final = contracts.StateComplete
		auditID = o.audit(ctx, s, sealed, decision, final, elapsedMs)
		o.advance(ctx, s, contracts.StateComplete, "")
	}

	result := contracts.SessionResult{
		SessionID:  s.id(),
		FinalState: final,
		Votes:      contracts.SortedVotes(sealed.Votes),
		ElapsedMs:  elapsedMs,
		AuditID:    auditID,
		VetoReason: decision.Reason,
	}
	s.finish(result)
	o.save(ctx, s)

	span.SetAttributes(
		attribute.String("session.final_state", string(final)),
		attribute.Int64("session.elapsed_ms", elapsedMs),
	)
	if decision.Vetoed {
		span.SetStatus(codes.Error, string(decision.Reason))
	}
	o.metrics.SessionFinished(ctx, string(final), string(decision.Reason))
	o.logger.InfoContext(ctx, "session finished",
		"session_id", s.id(),
		"final_state", final,
		"veto_reason", decision.Reason,
		"elapsed_ms", elapsedMs,
		"approve_count", tally.ApproveCount,
	)
	return result, nil
}

// Status returns the recorded history of a session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (contracts.SessionRecord, error) {
	rec, err := o.history.Get(ctx, sessionID)
	if err != nil {
		return contracts.SessionRecord{}, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return rec, nil
}

// audit builds and enqueues the entry for a decided session. It returns the
// audit id when the sink accepted the entry.
func (o *Orchestrator) audit(ctx context.Context, s *session, round contracts.ConsensusRound, decision contracts.VetoDecision, final contracts.SessionState, elapsedMs int64) string {
	if o.sink == nil {
		return ""
	}
	entry, err := audit.NewEntry(s.snapshot(), round, decision, final, elapsedMs, o.clock())
	if err != nil {
		o.logger.ErrorContext(ctx, "building audit entry", "session_id", s.id(), "error", err)
		return ""
	}
	if !o.sink.Enqueue(entry) {
		o.logger.WarnContext(ctx, "audit sink unavailable, entry not recorded", "session_id", s.id())
		return ""
	}
	return entry.AuditID
}

func (o *Orchestrator) newSession(d contracts.Directive) *session {
	return &session{rec: contracts.SessionRecord{
		SessionID: d.ID,
		Directive: d,
		State:     contracts.StateIdle,
		CreatedAt: d.SubmittedAt,
	}}
}

// record applies one lifecycle edge to the in-memory session. An edge
// outside the lifecycle table is a programming error and panics.
func (o *Orchestrator) record(ctx context.Context, s *session, to contracts.SessionState, note string) {
	from := s.transition(to, note, o.clock())
	o.logger.DebugContext(ctx, "session transition",
		"session_id", s.id(),
		"from", from,
		"to", to,
	)
}

// advance records one lifecycle edge and persists the snapshot.
func (o *Orchestrator) advance(ctx context.Context, s *session, to contracts.SessionState, note string) {
	o.record(ctx, s, to, note)
	o.save(ctx, s)
}

// save never fails the session: history is served to status queries only.
func (o *Orchestrator) save(ctx context.Context, s *session) {
	if err := o.history.Save(context.WithoutCancel(ctx), s.snapshot()); err != nil {
		o.logger.WarnContext(ctx, "saving session history", "session_id", s.id(), "error", err)
	}
}

// session is the mutable record of one Submit call. It is never shared
// with another session; the lock only guards snapshots taken by history
// writes against the owning goroutine.
type session struct {
	mu  sync.Mutex
	rec contracts.SessionRecord
}

func (s *session) id() string { return s.rec.SessionID }

func (s *session) setDeadline(t time.Time) {
	s.mu.Lock()
	s.rec.Deadline = t
	s.mu.Unlock()
}

func (s *session) transition(to contracts.SessionState, note string, at time.Time) contracts.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.rec.State
	if !contracts.CanTransition(from, to) {
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", from, to))
	}
	s.rec.State = to
	s.rec.History = append(s.rec.History, contracts.StateTransition{From: from, To: to, At: at.UTC(), Note: note})
	return from
}

func (s *session) finish(result contracts.SessionResult) {
	s.mu.Lock()
	s.rec.Result = &result
	s.mu.Unlock()
}

func (s *session) snapshot() contracts.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.rec
	rec.History = append([]contracts.StateTransition(nil), s.rec.History...)
	if s.rec.Result != nil {
		res := *s.rec.Result
		res.Votes = append([]contracts.NodeVote(nil), res.Votes...)
		rec.Result = &res
	}
	return rec
}
