package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/audit"
	"github.com/Mindburn-Labs/lattice/pkg/config"
	"github.com/Mindburn-Labs/lattice/pkg/consensus"
	"github.com/Mindburn-Labs/lattice/pkg/dispatch"
	"github.com/Mindburn-Labs/lattice/pkg/governance"
	"github.com/Mindburn-Labs/lattice/pkg/history"
	"github.com/Mindburn-Labs/lattice/pkg/nodes"
	"github.com/Mindburn-Labs/lattice/pkg/observability"
	"github.com/Mindburn-Labs/lattice/pkg/orchestrator"
	"github.com/Mindburn-Labs/lattice/pkg/rules"
	"github.com/Mindburn-Labs/lattice/pkg/store"
)

// app is the wired process: every component built from one configuration.
type app struct {
	cfg       *config.Config
	registry  *nodes.Registry
	orch      *orchestrator.Orchestrator
	sink      *audit.Sink
	telemetry *observability.Provider
	closers   []func(context.Context) error
}

// newApp builds the pipeline in dependency order. A quorum that the node
// registry cannot satisfy fails here, before anything is started.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var validator *governance.Validator
	a.registry, validator, err = buildGovernance(cfg)
	if err != nil {
		return nil, err
	}

	a.telemetry, err = observability.New(ctx, &observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	metrics, err := observability.NewMetrics(a.telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	auditStore, err := store.Open(ctx, cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	if auditStore != nil {
		a.closers = append(a.closers, func(context.Context) error { return auditStore.Close() })

		backoff := audit.DefaultSinkConfig().Backoff
		backoff.BaseMs = cfg.Audit.BaseBackoffMs
		backoff.MaxMs = cfg.Audit.MaxBackoffMs
		backoff.MaxAttempts = cfg.Audit.MaxAttempts
		a.sink = audit.NewSink(auditStore, audit.SinkConfig{
			QueueSize: cfg.Audit.QueueSize,
			Backoff:   backoff,
			Metrics:   metrics,
		})
		// The sink outlives the caller's context; Close drains it.
		if err := a.sink.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		a.closers = append(a.closers, a.sink.Close)
	}

	sessions, err := openHistory(ctx, cfg.History)
	if err != nil {
		return nil, err
	}
	if c, ok := sessions.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	a.orch, err = orchestrator.New(a.registry, validator,
		dispatch.New(dispatch.WithMetrics(metrics)),
		a.sink, sessions,
		orchestrator.WithDispatchReserve(cfg.DispatchReserve()),
		orchestrator.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildGovernance compiles the node registry and the validator. It touches
// no external system, so check-config runs it too.
func buildGovernance(cfg *config.Config) (*nodes.Registry, *governance.Validator, error) {
	env, err := rules.NewEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("rules environment: %w", err)
	}

	registry, err := nodes.Build(cfg.Nodes, env, &http.Client{})
	if err != nil {
		return nil, nil, fmt.Errorf("node registry: %w", err)
	}
	if err := consensus.CheckQuorum(cfg.Governance.RequiredQuorum, registry.Len()); err != nil {
		return nil, nil, err
	}

	checks := make([]governance.ComplianceCheck, 0, len(cfg.Governance.ComplianceChecks))
	for _, c := range cfg.Governance.ComplianceChecks {
		chk, err := governance.NewComplianceCheck(env, c.Name, c.Expr)
		if err != nil {
			return nil, nil, err
		}
		checks = append(checks, chk)
	}
	return registry, governance.NewValidator(cfg.Constraints(), checks...), nil
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s := history.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.TTLSeconds)*time.Second)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("history redis %s: %w", cfg.RedisAddr, err)
		}
		return s, nil
	case config.BackendMemory, "":
		return history.NewMemoryStore(cfg.MaxSessions), nil
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}

// Close releases components in reverse construction order so the audit
// sink drains before its store closes.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
