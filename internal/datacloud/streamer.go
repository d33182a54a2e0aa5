package datacloud

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/circuitbreaker"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/metrics"
	"github.com/mbd888/haven/internal/retry"
	"github.com/mbd888/haven/internal/risk"
	"github.com/mbd888/haven/internal/security"
	"github.com/mbd888/haven/internal/traces"
)

// Options tune the streamer.
type Options struct {
	Enabled   bool
	Workers   int
	QueueSize int
	Retry     retry.Policy
	// BreakerThreshold consecutive failures open the circuit of an object
	// for BreakerCooldown.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Enabled:          true,
		Workers:          2,
		QueueSize:        256,
		Retry:            retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

type job struct {
	object   string
	userHash string
	record   Record
}

// Streamer queues records and delivers them with a fixed worker pool. It
// implements chat.EventSink and risk.Publisher.
type Streamer struct {
	client  *Client
	hasher  *security.Hasher
	breaker *circuitbreaker.Breaker
	opts    Options
	logger  *slog.Logger

	mu     sync.RWMutex
	queue  chan job
	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

var (
	_ chat.EventSink = (*Streamer)(nil)
	_ risk.Publisher = (*Streamer)(nil)
)

// NewStreamer creates a streamer. A nil client or Enabled=false yields a
// streamer that accepts and discards everything.
func NewStreamer(client *Client, hasher *security.Hasher, opts Options, logger *slog.Logger) *Streamer {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}
	if client == nil {
		opts.Enabled = false
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Streamer{
		client:  client,
		hasher:  hasher,
		breaker: circuitbreaker.New(opts.BreakerThreshold, opts.BreakerCooldown),
		opts:    opts,
		logger:  logger,
		queue:   make(chan job, opts.QueueSize),
	}
}

// Enabled reports whether records are actually sent.
func (s *Streamer) Enabled() bool {
	return s.opts.Enabled
}

// Endpoint returns the ingest base URL, or "" when disabled.
func (s *Streamer) Endpoint() string {
	if !s.opts.Enabled {
		return ""
	}
	return s.client.Endpoint()
}

// Start launches the workers. The workers outlive ctx's cancellation so
// queued records can drain; Stop ends them.
func (s *Streamer) Start(ctx context.Context) {
	if !s.opts.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil || s.closed {
		return
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(wctx)
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			s.work(gctx)
			return nil
		})
	}
	s.cancel = cancel
	s.group = g
	s.logger.Info("datacloud streamer started",
		"workers", s.opts.Workers, "queue_size", s.opts.QueueSize, "endpoint", s.client.Endpoint())
}

// Stop closes the queue and waits for the workers to drain it. When ctx
// expires first, in-flight deliveries are cancelled and the rest dropped.
func (s *Streamer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	g, cancel := s.group, s.cancel
	s.mu.Unlock()

	if g == nil {
		return nil
	}
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Streamer) work(ctx context.Context) {
	for j := range s.queue {
		metrics.StreamQueueDepth.Set(float64(len(s.queue)))
		if ctx.Err() != nil {
			metrics.StreamDroppedTotal.WithLabelValues(j.object).Inc()
			continue
		}
		jctx := logging.WithUserHash(logging.WithLogger(ctx, s.logger), j.userHash)
		if err := s.Deliver(jctx, j.object, j.record); err != nil {
			s.logger.Warn("datacloud delivery failed",
				"object", j.object, "user_hash", j.userHash, "error", err)
		}
	}
}

// Enqueue queues a record without blocking. It reports false when the
// record was dropped because streaming is off, the queue is full or the
// streamer has stopped.
func (s *Streamer) Enqueue(object, userHash string, rec Record) bool {
	if !s.opts.Enabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.StreamDroppedTotal.WithLabelValues(object).Inc()
		return false
	}
	select {
	case s.queue <- job{object: object, userHash: userHash, record: rec}:
		metrics.StreamQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		metrics.StreamDroppedTotal.WithLabelValues(object).Inc()
		s.logger.Warn("datacloud queue full, dropping record", "object", object)
		return false
	}
}

// Deliver posts one record synchronously through the retry policy and the
// object's circuit breaker.
func (s *Streamer) Deliver(ctx context.Context, object string, rec Record) error {
	if !s.opts.Enabled {
		return ErrDisabled
	}
	ctx, span := traces.StartSpan(ctx, "datacloud.Deliver", traces.StreamObject(object))
	defer span.End()

	err := s.breaker.Execute(object, func() error {
		return retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
			return s.client.Post(ctx, object, rec)
		})
	})

	result := "ok"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		result = "circuit_open"
	case err != nil:
		result = "error"
		traces.RecordError(span, err)
	}
	metrics.StreamDeliveriesTotal.WithLabelValues(object, result).Inc()
	return err
}

// ChatEvent queues a stored chat event. Demo events are never streamed.
func (s *Streamer) ChatEvent(_ context.Context, e *chat.Event) {
	if !s.opts.Enabled || auth.IsDemo(e.UserID) {
		return
	}
	hash := s.hasher.Hash(e.UserID)
	s.Enqueue(ObjectChatEvent, hash, ChatEventRecord(e, hash))
}

// PublishAssessment queues a persisted risk snapshot.
func (s *Streamer) PublishAssessment(_ context.Context, a *risk.Assessment) {
	if !s.opts.Enabled || auth.IsDemo(a.UserID) {
		return
	}
	hash := s.hasher.Hash(a.UserID)
	s.Enqueue(ObjectRiskSnapshot, hash, RiskSnapshotRecord(a, hash))
}

// BreakerState reports the circuit state of object.
func (s *Streamer) BreakerState(object string) circuitbreaker.State {
	return s.breaker.State(object)
}
