package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the lattice instruments. All methods are safe on a nil
// receiver so components can run without telemetry.
type Metrics struct {
	sessions      metric.Int64Counter
	activeSession metric.Int64UpDownCounter
	nodeLatency   metric.Float64Histogram
	auditDropped  metric.Int64Counter
	auditRetries  metric.Int64Counter
	auditWritten  metric.Int64Counter
}

// NewMetrics registers the lattice instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.sessions, err = meter.Int64Counter("lattice.sessions.total",
		metric.WithDescription("Sessions reaching a terminal state"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if m.activeSession, err = meter.Int64UpDownCounter("lattice.sessions.active",
		metric.WithDescription("Sessions currently in flight"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("lattice.node.latency",
		metric.WithDescription("Advisory node call latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000),
	); err != nil {
		return nil, err
	}
	if m.auditDropped, err = meter.Int64Counter("lattice.audit.dropped",
		metric.WithDescription("Audit entries dropped by the bounded queue or after exhausting retries"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.auditRetries, err = meter.Int64Counter("lattice.audit.retries",
		metric.WithDescription("Audit write retries"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.auditWritten, err = meter.Int64Counter("lattice.audit.written",
		metric.WithDescription("Audit entries durably written"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// SessionStarted increments the in-flight gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSession.Add(ctx, 1)
}

// SessionFinished records a terminal session and decrements the gauge.
func (m *Metrics) SessionFinished(ctx context.Context, finalState, vetoReason string) {
	if m == nil {
		return
	}
	m.activeSession.Add(ctx, -1)
	m.sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("final_state", finalState),
		attribute.String("veto_reason", vetoReason),
	))
}

// NodeLatency records one node call.
func (m *Metrics) NodeLatency(ctx context.Context, nodeID, vote string, latencyMs int64) {
	if m == nil {
		return
	}
	m.nodeLatency.Record(ctx, float64(latencyMs), metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("vote", vote),
	))
}

// AuditDropped counts an entry lost by the sink. reason is one of
// "queue_full", "retries_exhausted" or "shutdown".
func (m *Metrics) AuditDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.auditDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// AuditRetry counts one retried write.
func (m *Metrics) AuditRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.auditRetries.Add(ctx, 1)
}

// AuditWritten counts one successful write.
func (m *Metrics) AuditWritten(ctx context.Context) {
	if m == nil {
		return
	}
	m.auditWritten.Add(ctx, 1)
}
