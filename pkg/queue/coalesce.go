package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jinaga/factengine/pkg/fact"
)

// Coalescer batches small bursts of enqueued envelopes behind a
// configurable delay before flushing them to an underlying Queue in one
// call, the way the teacher's outbox writer is fronted by application
// code that accumulates before calling Schedule — here made explicit and
// reusable since spec.md §4.10 calls for it directly ("a bounded
// in-memory coalescing layer batches small bursts with a configurable
// delay before flushing to the underlying queue").
type Coalescer struct {
	underlying Queue
	delay      time.Duration
	maxBatch   int

	mu      sync.Mutex
	pending []fact.Envelope
	timer   *time.Timer
	flushed chan struct{}
}

// NewCoalescer wraps underlying with a coalescing front end. maxBatch
// bounds how many pending envelopes trigger an immediate flush regardless
// of delay (0 means unbounded).
func NewCoalescer(underlying Queue, delay time.Duration, maxBatch int) *Coalescer {
	return &Coalescer{underlying: underlying, delay: delay, maxBatch: maxBatch}
}

// Enqueue appends to the pending batch and schedules (or reschedules) a
// flush after delay. It returns once the envelopes are durably held in
// memory, not once they reach underlying — callers that need a durability
// guarantee before returning should use underlying directly or call Flush.
func (c *Coalescer) Enqueue(ctx context.Context, envelopes []fact.Envelope) error {
	c.mu.Lock()
	c.pending = append(c.pending, envelopes...)
	overBatch := c.maxBatch > 0 && len(c.pending) >= c.maxBatch
	if c.timer == nil && !overBatch {
		c.timer = time.AfterFunc(c.delay, func() { _ = c.Flush(context.Background()) })
	}
	c.mu.Unlock()

	if overBatch {
		return c.Flush(ctx)
	}
	return nil
}

// Flush immediately drains whatever is pending to underlying, canceling
// any scheduled timer.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return c.underlying.Enqueue(ctx, batch)
}

func (c *Coalescer) Peek(ctx context.Context) ([]fact.Envelope, error) {
	return c.underlying.Peek(ctx)
}

func (c *Coalescer) Dequeue(ctx context.Context, refs []fact.Reference) error {
	return c.underlying.Dequeue(ctx, refs)
}
