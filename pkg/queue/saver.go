package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jinaga/factengine/pkg/fact"
)

// Transport is the minimal send operation a Saver needs from the remote
// peer connection (C11/C12 supply the real implementation over HTTP/WS).
type Transport interface {
	Send(ctx context.Context, envelopes []fact.Envelope) error
}

// SaverConfig governs the Saver's retry/backoff schedule (spec.md §4.10:
// "retries with exponential backoff (1s, 2s, 4s, capped at 60s, capped to
// a bounded number of immediate retries before deferring to a periodic
// timer)"). ImmediateRetries defaults to 3 if zero (Open Question decision
// #2 in DESIGN.md); PollInterval governs the periodic fallback once the
// immediate retry budget is exhausted.
type SaverConfig struct {
	ImmediateRetries int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	PollInterval     time.Duration
}

func (c SaverConfig) withDefaults() SaverConfig {
	if c.ImmediateRetries <= 0 {
		c.ImmediateRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 90 * time.Second
	}
	return c
}

// Saver drains a Queue into a Transport (spec.md §4.10, C10). It is
// grounded on the teacher's executor/outbox draining loop (GetPending →
// attempt send → MarkDone on success), replacing the teacher's hand-rolled
// deterministic-jitter backoff (pkg/kernel/retry/backoff.go) with
// github.com/cenkalti/backoff/v4's exponential backoff, since nothing in
// spec.md requires deterministic jitter for retry timing.
type Saver struct {
	queue     Queue
	transport Transport
	cfg       SaverConfig
	log       *slog.Logger
}

func NewSaver(q Queue, t Transport, cfg SaverConfig, log *slog.Logger) *Saver {
	if log == nil {
		log = slog.Default()
	}
	return &Saver{queue: q, transport: t, cfg: cfg.withDefaults(), log: log}
}

// Run drains the queue once per PollInterval tick until ctx is canceled.
// It also drains immediately on entry so a freshly restarted Persistent
// fork flushes whatever survived the crash (spec.md §4.11: "on start, the
// queue is drained before new saves").
func (s *Saver) Run(ctx context.Context) {
	s.drainOnce(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

// drainOnce peeks the queue and attempts to send the batch, retrying with
// bounded exponential backoff. It never blocks the caller beyond the
// retry budget: on exhaustion it logs and returns, leaving the envelopes
// queued for the next periodic tick or explicit Flush.
func (s *Saver) drainOnce(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		s.log.Warn("queue: saver drain failed, deferring to periodic retry", "error", err)
	}
}

// Flush peeks the queue, sends the batch through the transport with
// bounded retry, and on success dequeues exactly the envelopes sent.
func (s *Saver) Flush(ctx context.Context) error {
	envelopes, err := s.queue.Peek(ctx)
	if err != nil {
		return err
	}
	if len(envelopes) == 0 {
		return nil
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     s.cfg.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         s.cfg.MaxInterval,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.ImmediateRetries)), ctx)

	attempt := 0
	sendErr := backoff.RetryNotify(func() error {
		attempt++
		return s.transport.Send(ctx, envelopes)
	}, bo, func(err error, wait time.Duration) {
		s.log.Warn("queue: transport send failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if sendErr != nil {
		return sendErr
	}

	refs := make([]fact.Reference, len(envelopes))
	for i, e := range envelopes {
		refs[i] = e.Fact.Reference()
	}
	return s.queue.Dequeue(ctx, refs)
}
