// Package authorization computes, for each fact in a write batch, whether
// it may be accepted (spec.md §4.8). It is grounded on the teacher's
// pkg/authz/engine.go ReBAC tuple engine — generalized from a fixed
// relation-tuple graph with recursive group-membership expansion to a
// spec-evaluated authorized-population per fact type, keeping the
// teacher's RWMutex-guarded registry shape and its "declare once, check
// many times" API.
package authorization

import (
	"context"
	"sync"

	"github.com/jinaga/factengine/pkg/engineerr"
	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
	"github.com/jinaga/factengine/pkg/topo"
)

// Quantifier is the outcome of evaluating a type's authorized-population
// rule against the store for one candidate fact.
type Quantifier int

const (
	None Quantifier = iota
	Everyone
	Some
)

// Rule declares how a fact type's writers are authorized. Everyone=true
// bypasses key checking entirely. Otherwise Specification is evaluated
// with the candidate fact bound as its sole given, and every reference
// its projection yields is expected to resolve (via the same source) to
// a Jinaga.User or Jinaga.Device fact whose "publicKey" field names an
// authorized writer.
type Rule struct {
	Type          string
	Everyone      bool
	GivenLabel    string
	Specification *specification.Specification
}

// Engine holds the declared rules for every fact type the application
// authorizes writes for. A type with no declared rule is fail-closed:
// its authorized population is None (spec.md names no explicit default;
// fail-closed is the teacher's pdp.PolicyDecisionPoint convention and is
// preserved here — see DESIGN.md).
type Engine struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewEngine() *Engine {
	return &Engine{rules: map[string]Rule{}}
}

// Declare registers or replaces the rule for rule.Type.
func (e *Engine) Declare(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.Type] = rule
}

// Decision is the per-fact outcome of Authorize.
type Decision struct {
	Reference fact.Reference
	Accepted  bool
	Existing  bool
}

// Authorize topologically sorts envelopes and evaluates each fact's
// verdict in order, short-circuiting predecessor rejection within the
// batch. exists reports whether a reference is already durably
// persisted. writerPublicKey is the authenticated requester's own key,
// included in the candidate key set alongside the envelope's signatures.
// If any fact is rejected, the whole batch fails with *engineerr.Forbidden
// naming every rejected fact's type; otherwise it returns one Decision
// per envelope in the order Authorize examined them.
func (e *Engine) Authorize(ctx context.Context, src query.Source, exists func(fact.Reference) bool, writerPublicKey string, envelopes []fact.Envelope) ([]Decision, error) {
	records := make([]fact.Record, len(envelopes))
	byHash := make(map[string]fact.Envelope, len(envelopes))
	for i, env := range envelopes {
		records[i] = env.Fact
		byHash[env.Fact.Hash] = env
	}

	sorted, err := topo.Sort(records)
	if err != nil {
		return nil, err
	}

	// The authorized-population specification for a fact may chain through
	// predecessors that are part of this same batch and not yet
	// persisted (spec.md §4.8 evaluates the batch as a unit before any of
	// it is saved), so rule evaluation runs against a source that
	// overlays the batch's own records on top of the durable store.
	view := &batchView{batch: make(map[fact.Reference]fact.Record, len(sorted)), underlying: src}
	for _, r := range sorted {
		view.batch[r.Reference()] = r
	}

	rejected := map[string]bool{}
	var rejectedTypes []string
	decisions := make([]Decision, 0, len(sorted))

	for _, r := range sorted {
		ref := r.Reference()
		env := byHash[r.Hash]

		if exists(ref) {
			decisions = append(decisions, Decision{Reference: ref, Accepted: true, Existing: true})
			continue
		}

		if err := fact.Validate(&r); err != nil {
			rejected[r.Hash] = true
			rejectedTypes = append(rejectedTypes, r.Type)
			continue
		}

		if predecessorRejected(&r, rejected) {
			rejected[r.Hash] = true
			rejectedTypes = append(rejectedTypes, r.Type)
			continue
		}

		accepted, err := e.authorizeOne(ctx, view, ref, env, writerPublicKey)
		if err != nil {
			return nil, err
		}
		if !accepted {
			rejected[r.Hash] = true
			rejectedTypes = append(rejectedTypes, r.Type)
			continue
		}

		decisions = append(decisions, Decision{Reference: ref, Accepted: true})
	}

	if len(rejectedTypes) > 0 {
		return nil, &engineerr.Forbidden{RejectedCount: len(rejectedTypes), RejectedTypes: rejectedTypes}
	}
	return decisions, nil
}

// batchView overlays a write batch's own records on top of a durable
// source, so authorized-population specifications can walk predecessor
// chains that lead through facts in the same batch not yet persisted.
type batchView struct {
	batch      map[fact.Reference]fact.Record
	underlying query.Source
}

func (v *batchView) Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	if r, ok := v.batch[ref]; ok {
		return r.Predecessors[role].References, nil
	}
	return v.underlying.Predecessors(ctx, ref, role)
}

func (v *batchView) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	out, err := v.underlying.Successors(ctx, ref, role)
	if err != nil {
		return nil, err
	}
	for child, r := range v.batch {
		for _, other := range r.Predecessors[role].References {
			if other.Equal(ref) {
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func (v *batchView) Record(ctx context.Context, ref fact.Reference) (*fact.Record, error) {
	if r, ok := v.batch[ref]; ok {
		return &r, nil
	}
	return v.underlying.Record(ctx, ref)
}

func predecessorRejected(r *fact.Record, rejected map[string]bool) bool {
	for _, pr := range r.Predecessors {
		for _, ref := range pr.References {
			if rejected[ref.Hash] {
				return true
			}
		}
	}
	return false
}

func (e *Engine) authorizeOne(ctx context.Context, src query.Source, ref fact.Reference, env fact.Envelope, writerPublicKey string) (bool, error) {
	e.mu.RLock()
	rule, ok := e.rules[ref.Type]
	e.mu.RUnlock()

	if !ok {
		return false, nil // None: no declared rule
	}
	if rule.Everyone {
		return true, nil
	}

	given := rule.GivenLabel
	if given == "" {
		given = "fact"
	}
	results, err := query.Evaluate(ctx, src, rule.Specification, query.Tuple{given: ref})
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil // vacuous authorized population: None
	}

	authorizedKeys := map[string]bool{}
	for _, res := range results {
		userRef, ok := res.(fact.Reference)
		if !ok {
			continue
		}
		rec, err := src.Record(ctx, userRef)
		if err != nil || rec == nil {
			continue
		}
		if pk, ok := rec.Fields["publicKey"].(string); ok {
			authorizedKeys[pk] = true
		}
	}

	candidates := make([]string, 0, len(env.Signatures)+1)
	for _, sig := range env.Signatures {
		candidates = append(candidates, sig.PublicKey)
	}
	if writerPublicKey != "" {
		candidates = append(candidates, writerPublicKey)
	}

	for _, k := range candidates {
		if authorizedKeys[k] {
			return true, nil
		}
	}
	return false, nil
}
