package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/observability"
)

// ErrSinkClosed is returned by Start on a closed sink.
var ErrSinkClosed = errors.New("audit sink closed")

// SinkConfig sizes the queue and the retry schedule.
type SinkConfig struct {
	QueueSize int
	Backoff   BackoffPolicy
	Metrics   *observability.Metrics
}

// DefaultSinkConfig mirrors the documented defaults.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		QueueSize: 256,
		Backoff: BackoffPolicy{
			BaseMs:      100,
			MaxMs:       5000,
			MaxJitterMs: 50,
			MaxAttempts: 5,
		},
	}
}

// Sink is the single background writer. Enqueue never blocks: when the
// queue is full the oldest pending entry is dropped and logged so the most
// recent outcomes survive a store outage.
type Sink struct {
	store   Store
	cfg     SinkConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	queue   []contracts.AuditEntry
	running bool
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSink creates a sink over store. A nil store yields a sink that is
// never available.
func NewSink(store Store, cfg SinkConfig) *Sink {
	def := DefaultSinkConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff.MaxAttempts = def.Backoff.MaxAttempts
	}
	if cfg.Backoff.BaseMs <= 0 {
		cfg.Backoff.BaseMs = def.Backoff.BaseMs
	}
	if cfg.Backoff.MaxMs < cfg.Backoff.BaseMs {
		cfg.Backoff.MaxMs = cfg.Backoff.BaseMs
	}
	return &Sink{
		store:   store,
		cfg:     cfg,
		logger:  slog.Default().With("component", "audit"),
		metrics: cfg.Metrics,
		queue:   make([]contracts.AuditEntry, 0, cfg.QueueSize),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		sleep:   sleepContext,
	}
}

// Start launches the writer goroutine. It stops when ctx is cancelled or
// Close is called.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	go s.run(runCtx)
	return nil
}

// Available reports whether entries enqueued now have a store to reach.
// It does no I/O.
func (s *Sink) Available() bool {
	if s == nil || s.store == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.closed
}

// Enqueue hands entry to the writer. It reports false when no writer will
// ever pick the entry up: no store, not started, or closed.
func (s *Sink) Enqueue(entry contracts.AuditEntry) bool {
	if s == nil || s.store == nil {
		return false
	}

	s.mu.Lock()
	if s.closed || !s.running {
		s.mu.Unlock()
		return false
	}
	var dropped *contracts.AuditEntry
	if len(s.queue) >= s.cfg.QueueSize {
		oldest := s.queue[0]
		dropped = &oldest
		s.queue = append(s.queue[:0], s.queue[1:]...)
	}
	s.queue = append(s.queue, entry)
	s.mu.Unlock()

	if dropped != nil {
		s.logger.Warn("audit queue full, dropped oldest entry",
			"session_id", dropped.SessionID,
			"audit_id", dropped.AuditID,
		)
		s.metrics.AuditDropped(context.Background(), "queue_full")
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued entries.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops intake and waits for the writer to flush the queue. When ctx
// expires first the writer is cancelled, pending entries are abandoned and
// Close returns only after the writer has stopped touching the store.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := s.running
	s.mu.Unlock()

	close(s.stop)
	if !running {
		return nil
	}

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

func (s *Sink) pop() (contracts.AuditEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return contracts.AuditEntry{}, false
	}
	e := s.queue[0]
	s.queue = append(s.queue[:0], s.queue[1:]...)
	return e, true
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)
	for {
		s.drain(ctx)

		select {
		case <-ctx.Done():
			s.abandon(context.WithoutCancel(ctx))
			return
		case <-s.stop:
			// Final drain; retries still apply until Close cancels ctx.
			s.drain(ctx)
			if ctx.Err() != nil {
				s.abandon(context.WithoutCancel(ctx))
			}
			return
		case <-s.wake:
		}
	}
}

// drain delivers queued entries until the queue is empty or ctx ends.
func (s *Sink) drain(ctx context.Context) {
	for ctx.Err() == nil {
		entry, ok := s.pop()
		if !ok {
			return
		}
		s.deliver(ctx, entry)
	}
}

// deliver writes one entry with capped exponential backoff between
// attempts. Exhausted entries are logged and dropped.
func (s *Sink) deliver(ctx context.Context, entry contracts.AuditEntry) {
	policy := s.cfg.Backoff
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := s.store.Append(ctx, entry)
		if err == nil {
			s.metrics.AuditWritten(ctx)
			s.logger.DebugContext(ctx, "audit entry written",
				"session_id", entry.SessionID,
				"audit_id", entry.AuditID,
				"attempt", attempt,
			)
			return
		}

		werr := &contracts.AuditWriteError{SessionID: entry.SessionID, Attempt: attempt, Err: err}
		if attempt == policy.MaxAttempts {
			s.logger.ErrorContext(ctx, "audit write abandoned", "session_id", entry.SessionID, "error", werr)
			s.metrics.AuditDropped(ctx, "retries_exhausted")
			return
		}

		delay := policy.Delay(entry.SessionID, attempt)
		s.logger.WarnContext(ctx, "audit write failed, retrying",
			"session_id", entry.SessionID,
			"error", werr,
			"retry_in", delay,
		)
		s.metrics.AuditRetry(ctx)
		if err := s.sleep(ctx, delay); err != nil {
			s.logger.ErrorContext(ctx, "audit write abandoned", "session_id", entry.SessionID, "error", err)
			s.metrics.AuditDropped(ctx, "retries_exhausted")
			return
		}
	}
}

func (s *Sink) abandon(ctx context.Context) {
	for {
		entry, ok := s.pop()
		if !ok {
			return
		}
		s.logger.ErrorContext(ctx, "audit sink stopped with pending entry", "session_id", entry.SessionID)
		s.metrics.AuditDropped(ctx, "shutdown")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
