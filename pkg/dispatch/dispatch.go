// Package dispatch fans a directive out to every registered node and joins
// the calls at a deadline barrier.
//
// Failures never become verdicts: an error, a panic, an invalid vote or a
// missed deadline is recorded as ABSTAIN with the cause in the vote's Error
// field.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/nodes"
	"github.com/Mindburn-Labs/lattice/pkg/observability"
)

// Dispatcher is stateless between calls; one value serves all sessions.
type Dispatcher struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records per-node latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default().With("component", "dispatch"),
		tracer: otel.Tracer(observability.InstrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch calls every node concurrently and waits until all have answered
// or deadline passes. The returned map has exactly one vote per node id.
// Calls still running at the barrier are cancelled and recorded as timeout
// abstains; Dispatch does not wait for them to acknowledge.
func (d *Dispatcher) Dispatch(ctx context.Context, directive contracts.Directive, targets []nodes.Node, deadline time.Time) map[string]contracts.NodeVote {
	ctx, span := d.tracer.Start(ctx, "lattice.dispatch", trace.WithAttributes(
		attribute.String("directive.id", directive.ID),
		attribute.Int("nodes", len(targets)),
	))
	defer span.End()

	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := d.now()
	// Buffered so late callers never block after the barrier closes.
	results := make(chan contracts.NodeVote, len(targets))
	for _, n := range targets {
		go d.call(callCtx, n, directive, results)
	}

	votes := make(map[string]contracts.NodeVote, len(targets))
	for len(votes) < len(targets) {
		select {
		case v := <-results:
			votes[v.VoterID] = v
		case <-callCtx.Done():
			d.closeBarrier(ctx, callCtx.Err(), targets, results, votes, start)
			span.SetStatus(codes.Error, "barrier closed before all nodes answered")
			return votes
		}
	}
	return votes
}

// closeBarrier keeps votes that were already buffered when the deadline
// fired and fills every remaining slot with an abstain.
func (d *Dispatcher) closeBarrier(ctx context.Context, cause error, targets []nodes.Node, results <-chan contracts.NodeVote, votes map[string]contracts.NodeVote, start time.Time) {
drain:
	for {
		select {
		case v := <-results:
			votes[v.VoterID] = v
		default:
			break drain
		}
	}

	reason := cutoffCause(cause).Error()
	latency := d.now().Sub(start).Milliseconds()
	for _, n := range targets {
		id := n.ID()
		if _, ok := votes[id]; ok {
			continue
		}
		votes[id] = contracts.Abstain(id, latency, reason)
		d.logger.WarnContext(ctx, "node did not answer before barrier",
			"node_id", id,
			"reason", reason,
			"latency_ms", latency,
		)
		d.metrics.NodeLatency(ctx, id, string(contracts.VoteAbstain), latency)
	}
}

// call runs one node and always sends exactly one vote attributed to the
// node's registry id.
func (d *Dispatcher) call(ctx context.Context, n nodes.Node, directive contracts.Directive, out chan<- contracts.NodeVote) {
	id := n.ID()
	ctx, span := d.tracer.Start(ctx, "lattice.node.evaluate", trace.WithAttributes(
		attribute.String("node.id", id),
	))
	defer span.End()

	started := d.now()
	var vote contracts.NodeVote
	var callErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("panic: %v", r)
			}
		}()
		vote, callErr = n.Evaluate(ctx, directive)
	}()
	latency := d.now().Sub(started).Milliseconds()

	switch {
	case callErr != nil:
		reason := (&contracts.NodeCallError{NodeID: id, Err: callErr}).Error()
		if errors.Is(callErr, context.DeadlineExceeded) || errors.Is(callErr, context.Canceled) {
			cause := cutoffCause(callErr)
			callErr = &contracts.NodeCallError{NodeID: id, Err: cause}
			reason = cause.Error()
		}
		vote = contracts.Abstain(id, latency, reason)
		span.RecordError(callErr)
		span.SetStatus(codes.Error, reason)
		d.logger.WarnContext(ctx, "node call failed", "node_id", id, "error", callErr, "latency_ms", latency)
	case !vote.VoteType.Valid():
		reason := fmt.Sprintf("node %s: invalid vote type %q", id, vote.VoteType)
		vote = contracts.Abstain(id, latency, reason)
		span.SetStatus(codes.Error, reason)
		d.logger.WarnContext(ctx, "node returned invalid vote", "node_id", id, "vote", reason)
	default:
		vote.VoterID = id
		vote.LatencyMs = latency
		vote.Error = ""
	}

	span.SetAttributes(attribute.String("vote", string(vote.VoteType)))
	d.metrics.NodeLatency(ctx, id, string(vote.VoteType), latency)
	out <- vote
}

// cutoffCause maps a context error to the sentinel recorded on the vote.
func cutoffCause(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, contracts.ErrCanceled) {
		return contracts.ErrCanceled
	}
	return contracts.ErrTimeout
}
