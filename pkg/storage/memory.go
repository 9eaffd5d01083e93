package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jinaga/factengine/pkg/engineerr"
	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
	"github.com/jinaga/factengine/pkg/topo"
)

// Memory is a reference in-memory Storage implementation: a map of
// envelopes keyed by reference, a successor (inverse predecessor) index
// per role, and an ancestor-closure cache. It is not durable — grounded
// loosely on the teacher's store/outbox_store.go shape (save, exists,
// load) minus its Postgres persistence, since the outer fact-engine
// contract specifies storage as an interface rather than a fixed backend
// (spec.md §1, §4.3).
type Memory struct {
	mu sync.RWMutex

	envelopes map[fact.Reference]fact.Envelope
	// successors[role][parent] = children that hold parent under role.
	successors map[string]map[fact.Reference][]fact.Reference

	mruDates map[string]time.Time

	purgeConditions []PurgeCondition

	ancestorCache *lru.Cache[fact.Reference, []fact.Reference]

	// insertionOrder records the order in which facts were first
	// persisted, to give Feed a stable, replayable bookmark without a real
	// time-series index.
	insertionOrder []fact.Reference
}

// NewMemory constructs an empty Memory store. ancestorCacheSize bounds the
// ancestor-closure memoization cache; 0 picks a reasonable default.
func NewMemory(ancestorCacheSize int) *Memory {
	if ancestorCacheSize <= 0 {
		ancestorCacheSize = 4096
	}
	cache, _ := lru.New[fact.Reference, []fact.Reference](ancestorCacheSize)
	return &Memory{
		envelopes:  map[fact.Reference]fact.Envelope{},
		successors: map[string]map[fact.Reference][]fact.Reference{},
		mruDates:   map[string]time.Time{},
		ancestorCache: cache,
	}
}

var _ Storage = (*Memory)(nil)

func (m *Memory) Predecessors(_ context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.envelopes[ref]
	if !ok {
		return nil, nil
	}
	pr, ok := env.Fact.Predecessors[role]
	if !ok {
		return nil, nil
	}
	out := make([]fact.Reference, len(pr.References))
	copy(out, pr.References)
	return out, nil
}

func (m *Memory) Successors(_ context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byParent, ok := m.successors[role]
	if !ok {
		return nil, nil
	}
	out := make([]fact.Reference, len(byParent[ref]))
	copy(out, byParent[ref])
	return out, nil
}

func (m *Memory) Record(_ context.Context, ref fact.Reference) (*fact.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.envelopes[ref]
	if !ok {
		return nil, &engineerr.StorageError{Op: "record", Err: errNotFound(ref)}
	}
	r := env.Fact
	return &r, nil
}

type notFoundError struct{ ref fact.Reference }

func (e notFoundError) Error() string { return "fact not found: " + e.ref.String() }

func errNotFound(ref fact.Reference) error { return notFoundError{ref: ref} }

// Save topologically sorts the incoming batch (allowing predecessors to
// appear either already in storage or earlier in the same batch), then
// persists each new fact, merging signatures into any fact already known.
// It returns only the envelopes newly persisted.
func (m *Memory) Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error) {
	records := make([]fact.Record, len(envelopes))
	byHash := make(map[string]fact.Envelope, len(envelopes))
	for i, e := range envelopes {
		records[i] = e.Fact
		byHash[e.Fact.Hash] = e
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	isStored := func(ref fact.Reference) bool {
		_, ok := m.envelopes[ref]
		return ok
	}
	sorted, err := topo.SortWithKnown(records, isStored)
	if err != nil {
		return nil, &engineerr.StorageError{Op: "save", Err: err}
	}

	var newlyPersisted []fact.Envelope
	for _, r := range sorted {
		ref := r.Reference()
		for role, pr := range r.Predecessors {
			for _, pref := range pr.References {
				if _, ok := m.envelopes[pref]; !ok {
					return nil, &engineerr.StorageError{
						Op:  "save",
						Err: &engineerr.InvalidGraph{Reason: "predecessor " + pref.String() + " of " + ref.String() + " (role " + role + ") is unknown"},
					}
				}
			}
		}

		env := byHash[r.Hash]
		if existing, ok := m.envelopes[ref]; ok {
			existing.Signatures = fact.MergeSignatures(existing.Signatures, env.Signatures)
			m.envelopes[ref] = existing
			continue
		}

		m.envelopes[ref] = env
		m.insertionOrder = append(m.insertionOrder, ref)
		for role, pr := range r.Predecessors {
			if m.successors[role] == nil {
				m.successors[role] = map[fact.Reference][]fact.Reference{}
			}
			for _, pref := range pr.References {
				m.successors[role][pref] = append(m.successors[role][pref], ref)
			}
		}
		newlyPersisted = append(newlyPersisted, env)
	}

	return newlyPersisted, nil
}

func (m *Memory) WhichExist(_ context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []fact.Reference
	for _, ref := range refs {
		if _, ok := m.envelopes[ref]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Load returns the requested facts together with their full ancestor
// closure, memoizing per-reference ancestor sets since the graph is
// immutable: a fact's predecessors never change once it exists.
func (m *Memory) Load(_ context.Context, refs []fact.Reference) ([]fact.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[fact.Reference]bool{}
	var out []fact.Envelope
	skips := 0

	var visit func(ref fact.Reference) error
	visit = func(ref fact.Reference) error {
		if seen[ref] {
			skips++
			return nil
		}
		seen[ref] = true
		env, ok := m.envelopes[ref]
		if !ok {
			return &engineerr.StorageError{Op: "load", Err: errNotFound(ref)}
		}
		out = append(out, env)

		if ancestors, ok := m.ancestorCache.Get(ref); ok {
			for _, a := range ancestors {
				if !seen[a] {
					seen[a] = true
					if ae, ok := m.envelopes[a]; ok {
						out = append(out, ae)
					}
				} else {
					skips++
				}
			}
			return nil
		}

		before, skipsBefore := len(out), skips
		for _, pr := range env.Fact.Predecessors {
			for _, pref := range pr.References {
				if err := visit(pref); err != nil {
					return err
				}
			}
		}
		collected := make([]fact.Reference, 0, len(out)-before)
		for _, e := range out[before:] {
			collected = append(collected, e.Fact.Reference())
		}
		if skips == skipsBefore {
			m.ancestorCache.Add(ref, collected)
		}
		return nil
	}

	for _, ref := range refs {
		if err := visit(ref); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Memory) Read(ctx context.Context, starts query.Tuple, spec *specification.Specification) ([]any, error) {
	return query.Evaluate(ctx, m, spec, starts)
}

// Feed evaluates spec's tuples against starts and returns the references
// bound to label that have not yet been consumed per bookmark. The
// bookmark is the count of matching tuples already delivered, relying on
// Memory.insertionOrder to give a stable total order — a real backend
// replaces this with a durable per-feed sequence number (spec.md §4.6).
func (m *Memory) Feed(ctx context.Context, spec *specification.Specification, label string, starts query.Tuple, bookmark string) (FeedResult, error) {
	tuples, err := query.EvaluateTuples(ctx, m, spec, starts)
	if err != nil {
		return FeedResult{}, &engineerr.StorageError{Op: "feed", Err: err}
	}

	m.mu.RLock()
	order := make(map[fact.Reference]int, len(m.insertionOrder))
	for i, ref := range m.insertionOrder {
		order[ref] = i
	}
	m.mu.RUnlock()

	refs := make([]fact.Reference, 0, len(tuples))
	for _, t := range tuples {
		if ref, ok := t[label]; ok {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return order[refs[i]] < order[refs[j]] })

	start := 0
	if bookmark != "" {
		if n, ok := parseBookmark(bookmark); ok {
			start = n
		}
	}
	if start > len(refs) {
		start = len(refs)
	}

	return FeedResult{
		References:   refs[start:],
		NextBookmark: formatBookmark(len(refs)),
	}, nil
}

func parseBookmark(s string) (int, bool) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func formatBookmark(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (m *Memory) MRUDate(_ context.Context, specHash string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.mruDates[specHash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) SetMRUDate(_ context.Context, specHash string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mruDates[specHash] = t
	return nil
}

// RegisterPurgeCondition rejects conditions containing any
// ExistentialCondition: purge must be a deterministic function of the
// fact graph alone, and existential clauses make membership depend on
// what else happens to exist at purge time (spec.md §6).
func (m *Memory) RegisterPurgeCondition(cond PurgeCondition) error {
	for _, match := range cond.Specification.Matches {
		for _, c := range match.Conditions {
			if _, ok := c.(specification.ExistentialCondition); ok {
				return &engineerr.StorageError{
					Op:  "register_purge_condition",
					Err: &engineerr.InvalidGraph{Reason: "purge conditions may not contain existential clauses"},
				}
			}
		}
	}
	m.mu.Lock()
	m.purgeConditions = append(m.purgeConditions, cond)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Purge(ctx context.Context, roots []fact.Reference) error {
	m.mu.RLock()
	conds := make([]PurgeCondition, len(m.purgeConditions))
	copy(conds, m.purgeConditions)
	m.mu.RUnlock()

	for _, cond := range conds {
		if err := m.PurgeDescendants(ctx, roots, cond); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) PurgeDescendants(ctx context.Context, roots []fact.Reference, cond PurgeCondition) error {
	given := cond.Specification.Givens
	if len(given) == 0 {
		return nil
	}
	rootLabel := given[0].Name

	toRemove := map[fact.Reference]bool{}
	for _, root := range roots {
		tuples, err := query.EvaluateTuples(ctx, m, cond.Specification, query.Tuple{rootLabel: root})
		if err != nil {
			return &engineerr.StorageError{Op: "purge", Err: err}
		}
		for _, t := range tuples {
			for k, ref := range t {
				if k != rootLabel {
					toRemove[ref] = true
				}
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ref := range toRemove {
		delete(m.envelopes, ref)
		m.ancestorCache.Remove(ref)
		for role := range m.successors {
			delete(m.successors[role], ref)
		}
	}
	if len(toRemove) > 0 {
		kept := m.insertionOrder[:0]
		for _, ref := range m.insertionOrder {
			if !toRemove[ref] {
				kept = append(kept, ref)
			}
		}
		m.insertionOrder = kept
	}
	return nil
}
