// Package fork composes a local store with an optional remote peer and
// outbound queue into the three replication modes spec.md §4.11 names
// (PassThrough, Transient, Persistent). It is grounded on the teacher's
// pkg/pdp Backend-tag composition (one struct, a mode tag, optional
// backend fields swapped in per mode) — adapted here from policy backends
// to replication modes — and directly follows this module's own Design
// Note guidance to collapse a decorator tower into one struct with
// optional components rather than three separate wrapper types.
package fork

import (
	"context"
	"log/slog"

	"github.com/jinaga/factengine/pkg/engineerr"
	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/observable"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
	"github.com/jinaga/factengine/pkg/storage"
)

// Mode selects which of the three replication behaviors a Fork exhibits.
type Mode int

const (
	// PassThrough: local store only; save writes locally; load reads
	// locally; subscription is a no-op.
	PassThrough Mode = iota
	// Transient: local store + remote; save writes local then enqueues
	// for remote; load fills gaps from remote; subscription streams
	// from remote into local.
	Transient
	// Persistent: as Transient, but the queue is durable and is drained
	// before new saves on start.
	Persistent
)

// RemoteLoader fetches envelopes for specific references from the remote
// peer, used by Load to fill local gaps (spec.md §4.11).
type RemoteLoader interface {
	Load(ctx context.Context, refs []fact.Reference) ([]fact.Envelope, error)
}

// Enqueuer is the subset of queue.Queue a Fork needs to hand off
// newly-saved local envelopes for eventual remote transmission.
type Enqueuer interface {
	Enqueue(ctx context.Context, envelopes []fact.Envelope) error
}

// Subscriptions is the subset of the Network Manager (C12) a Fork needs
// to start/stop remote-to-local streaming for Transient and Persistent
// modes.
type Subscriptions interface {
	Start(ctx context.Context) error
	Stop()
}

// Fork composes the capabilities spec.md §4.11 names: a local store
// (always present), and — for Transient/Persistent — a remote loader, an
// outbound queue, and a subscription manager. PassThrough simply leaves
// the optional fields nil.
type Fork struct {
	mode     Mode
	local    storage.Storage
	observer *observable.Source
	remote   RemoteLoader
	queue    Enqueuer
	subs     Subscriptions
	log      *slog.Logger
}

// NewPassThrough constructs a Fork backed only by local storage.
func NewPassThrough(local storage.Storage, observer *observable.Source, log *slog.Logger) *Fork {
	return &Fork{mode: PassThrough, local: local, observer: observer, log: logOrDefault(log)}
}

// NewTransient constructs a Fork that writes locally, enqueues for
// remote, and fills load gaps from remote.
func NewTransient(local storage.Storage, observer *observable.Source, remote RemoteLoader, q Enqueuer, subs Subscriptions, log *slog.Logger) *Fork {
	return &Fork{mode: Transient, local: local, observer: observer, remote: remote, queue: q, subs: subs, log: logOrDefault(log)}
}

// NewPersistent is NewTransient with a durable queue; the caller is
// responsible for constructing q as a durable queue.Queue (e.g.
// queue.SQLiteQueue) so it survives restart.
func NewPersistent(local storage.Storage, observer *observable.Source, remote RemoteLoader, q Enqueuer, subs Subscriptions, log *slog.Logger) *Fork {
	return &Fork{mode: Persistent, local: local, observer: observer, remote: remote, queue: q, subs: subs, log: logOrDefault(log)}
}

func logOrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

// Mode reports which replication mode this Fork was constructed with.
func (f *Fork) Mode() Mode { return f.mode }

// Start resumes a Persistent fork's durable state and begins streaming
// (spec.md §4.11: "on start, the queue is drained before new saves").
// Draining itself is the Saver's responsibility (C10); Start here only
// establishes the subscription streams so PassThrough/Transient without a
// configured Subscriptions are a no-op.
func (f *Fork) Start(ctx context.Context) error {
	if f.subs == nil {
		return nil
	}
	return f.subs.Start(ctx)
}

// Stop tears down any active subscription streams. A no-op for
// PassThrough.
func (f *Fork) Stop() {
	if f.subs != nil {
		f.subs.Stop()
	}
}

// Save persists envelopes locally, notifies observers, and — for
// Transient/Persistent — enqueues them for remote transmission.
func (f *Fork) Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error) {
	persisted, err := f.local.Save(ctx, envelopes)
	if err != nil {
		return nil, err
	}
	if len(persisted) > 0 && f.observer != nil {
		f.observer.Notify(ctx, f.local, persisted)
	}
	if f.queue != nil && len(persisted) > 0 {
		if err := f.queue.Enqueue(ctx, persisted); err != nil {
			f.log.Warn("fork: enqueue for remote failed", "error", err)
			return persisted, &engineerr.TransportError{Kind: engineerr.TransportRetry, Op: "enqueue", Err: err}
		}
	}
	return persisted, nil
}

// Load returns the union of locally known envelopes and any fetched from
// the remote peer (spec.md §4.11): it loads locally first, and for any
// reference entirely unresolved locally (no envelope and nothing in its
// ancestor closure satisfies it) falls back to RemoteLoader, then
// persists what it fetched — idempotently, via Save — before returning.
func (f *Fork) Load(ctx context.Context, refs []fact.Reference) ([]fact.Envelope, error) {
	present, err := f.local.WhichExist(ctx, refs)
	if err != nil {
		return nil, err
	}
	local, err := f.local.Load(ctx, present)
	if err != nil {
		return nil, err
	}
	if f.remote == nil {
		return local, nil
	}

	known := map[fact.Reference]bool{}
	for _, e := range local {
		known[e.Fact.Reference()] = true
	}
	var missing []fact.Reference
	for _, ref := range refs {
		if !known[ref] {
			missing = append(missing, ref)
		}
	}
	if len(missing) == 0 {
		return local, nil
	}

	fetched, err := f.remote.Load(ctx, missing)
	if err != nil {
		return local, &engineerr.TransportError{Kind: engineerr.TransportRetry, Op: "load", Err: err}
	}
	if len(fetched) == 0 {
		return local, nil
	}

	persisted, err := f.local.Save(ctx, fetched)
	if err != nil {
		return nil, err
	}
	if len(persisted) > 0 && f.observer != nil {
		f.observer.Notify(ctx, f.local, persisted)
	}

	result := make([]fact.Envelope, 0, len(local)+len(fetched))
	result = append(result, local...)
	result = append(result, fetched...)
	return result, nil
}

// Read evaluates spec against the local store directly — queries never
// suspend on the remote peer (spec.md §4.12: gaps are filled by a
// Subscriber's feed, not by Read itself).
func (f *Fork) Read(ctx context.Context, starts query.Tuple, spec *specification.Specification) ([]any, error) {
	return f.local.Read(ctx, starts, spec)
}

// Storage exposes the underlying local store, for components (the
// Network Manager, the authorization/distribution engines) that need
// direct storage access alongside Fork's composed behavior.
func (f *Fork) Storage() storage.Storage { return f.local }

// Observer exposes the composed listener registry.
func (f *Fork) Observer() *observable.Source { return f.observer }
