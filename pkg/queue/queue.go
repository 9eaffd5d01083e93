// Package queue implements the durable outbound FIFO and the Saver that
// drains it into a transport (spec.md §4.10, C10). It is grounded on the
// teacher's pkg/store outbox pattern (PostgresEffectOutboxStore: Schedule/
// GetPending/MarkDone as an append-then-ack queue) generalized from a
// Postgres-backed single schedule/ack pair to enqueue/peek/dequeue, and on
// pkg/kernel/retry's exponential backoff (reimplemented here with
// github.com/cenkalti/backoff/v4 rather than the teacher's hand-rolled
// deterministic-jitter math, since the spec has no determinism requirement
// on retry timing).
package queue

import (
	"context"
	"sync"

	"github.com/jinaga/factengine/pkg/fact"
)

// Queue is a durable, append-only FIFO of envelopes awaiting remote
// acknowledgment. Enqueue, Peek, and Dequeue are each atomic (spec.md
// §4.10); Dequeue removes exactly the envelopes named, identified by their
// fact reference, regardless of what Peek returns afterward.
type Queue interface {
	Enqueue(ctx context.Context, envelopes []fact.Envelope) error
	Peek(ctx context.Context) ([]fact.Envelope, error)
	Dequeue(ctx context.Context, refs []fact.Reference) error
}

// Memory is an in-process Queue backed by a slice, guarded by a mutex so
// enqueue/peek/dequeue observe a consistent snapshot (spec.md §5's
// "outbound queue allows a single draining task at a time" serialization
// point).
type Memory struct {
	mu      sync.Mutex
	entries []fact.Envelope
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(ctx context.Context, envelopes []fact.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, envelopes...)
	return nil
}

func (m *Memory) Peek(ctx context.Context) ([]fact.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fact.Envelope, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *Memory) Dequeue(ctx context.Context, refs []fact.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := make(map[fact.Reference]bool, len(refs))
	for _, r := range refs {
		remove[r] = true
	}
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if !remove[e.Fact.Reference()] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}
