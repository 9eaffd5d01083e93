// Package observable maintains the listener registry and dispatches
// fact-added notifications through inverse specifications (spec.md
// §4.7). It is loosely inspired by the subscriber bookkeeping in the
// teacher's replay/engine.go (Session tracking a sequence of Steps for
// later replay) and pdp's fail-closed decision shape, generalized from
// "replay one session's steps" to "dispatch one batch of facts against
// every registered listener's inverses" — the registry and dispatch loop
// themselves are spec-only, since HELM's proof graph has no reactive
// observation layer.
package observable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/feed"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
)

// ListenerID is an opaque, identity-comparable handle returned by
// Subscribe (spec.md §4.7's "identity-comparable handles").
type ListenerID = uuid.UUID

// Callback receives one projected result for one listener, along with
// whether the triggering fact adds or removes that result. It is invoked
// sequentially and must not re-enter the Source that invoked it. A
// returned error is traced but does not unregister the listener.
type Callback func(ctx context.Context, result any, op feed.Operation) error

type registration struct {
	id       ListenerID
	inverse  feed.Inverse
	given    query.Tuple
	callback Callback
	active   bool
}

// Source maintains specification → listener registrations, keyed by
// trigger fact type for O(1) dispatch lookup, and notifies them from
// batches of newly persisted envelopes.
type Source struct {
	mu        sync.Mutex
	byType    map[string][]*registration
	listeners map[ListenerID][]*registration
	log       *slog.Logger
}

// New constructs an empty Source. A nil logger falls back to slog's
// default handler.
func New(log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		byType:    map[string][]*registration{},
		listeners: map[ListenerID][]*registration{},
		log:       log,
	}
}

// Subscribe registers callback against every inverse of spec, scoped to
// the given tuple's bindings, and returns a handle for Unsubscribe.
func (s *Source) Subscribe(spec *specification.Specification, given query.Tuple, callback Callback) ListenerID {
	id := uuid.New()
	inverses := feed.Inverses(spec)

	s.mu.Lock()
	defer s.mu.Unlock()

	regs := make([]*registration, 0, len(inverses))
	for _, inv := range inverses {
		reg := &registration{id: id, inverse: inv, given: given, callback: callback, active: true}
		s.byType[inv.TriggerType] = append(s.byType[inv.TriggerType], reg)
		regs = append(regs, reg)
	}
	s.listeners[id] = regs
	return id
}

// Unsubscribe removes a listener in O(1) by tombstoning its
// registrations; Notify skips tombstoned entries. Removal from byType's
// slices is deferred to Notify's next pass over that type (spec.md §4.7:
// "removal is O(1)").
func (s *Source) Unsubscribe(id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.listeners[id] {
		reg.active = false
	}
	delete(s.listeners, id)
}

// Notify runs envelopes (in persisted order) against every matching
// inverse and delivers the resulting notifications to their listeners'
// callbacks, in insertion order, sequentially and without reentrancy. A
// callback error is logged and does not unregister the listener or halt
// dispatch to the rest of the batch (spec.md §4.7).
func (s *Source) Notify(ctx context.Context, src query.Source, envelopes []fact.Envelope) {
	for _, env := range envelopes {
		s.mu.Lock()
		live := s.byType[env.Fact.Type][:0]
		for _, reg := range s.byType[env.Fact.Type] {
			if reg.active {
				live = append(live, reg)
			}
		}
		s.byType[env.Fact.Type] = live
		regs := make([]*registration, len(live))
		copy(regs, live)
		s.mu.Unlock()

		triggerRef := env.Fact.Reference()

		for _, reg := range regs {
			if !reg.active {
				continue
			}
			s.dispatchOne(ctx, src, reg, triggerRef)
		}
	}
}

func (s *Source) dispatchOne(ctx context.Context, src query.Source, reg *registration, triggerRef fact.Reference) {
	tuples, err := query.EvaluateTuples(ctx, src, reg.inverse.Specification, query.Tuple{reg.inverse.TriggerLabel: triggerRef})
	if err != nil {
		s.log.Error("observable: inverse evaluation failed", "fact_type", reg.inverse.TriggerType, "error", err)
		return
	}

	for _, t := range tuples {
		if !boundTupleMatches(t, reg.given) {
			continue
		}
		result, err := query.Project(ctx, src, reg.inverse.Specification.Projection, t)
		if err != nil {
			s.log.Error("observable: projection failed", "fact_type", reg.inverse.TriggerType, "error", err)
			continue
		}
		s.invoke(ctx, reg, result)
	}
}

// invoke calls reg.callback and traces (without propagating) an error;
// spec.md §4.7 requires a failing callback to remain registered.
func (s *Source) invoke(ctx context.Context, reg *registration, result any) {
	if err := reg.callback(ctx, result, reg.inverse.Operation); err != nil {
		s.log.Error("observable: listener callback failed", "listener", reg.id, "error", err)
	}
}

// boundTupleMatches reports whether t agrees with given on every label
// given binds, so a type-indexed inverse match is also scoped to the
// specific given instance (e.g. one particular airline) the listener
// subscribed against.
func boundTupleMatches(t, given query.Tuple) bool {
	for k, v := range given {
		if other, ok := t[k]; !ok || !other.Equal(v) {
			return false
		}
	}
	return true
}
