package query

import (
	"context"
	"fmt"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/specification"
)

// EvaluateTuples runs spec's matches against src, starting from given, and
// returns every resulting tuple (without projection). It is exported
// separately from Evaluate because existential conditions and nested
// specification projections both need the unprojected tuple set.
func EvaluateTuples(ctx context.Context, src Source, spec *specification.Specification, given Tuple) ([]Tuple, error) {
	tuples := []Tuple{given.clone()}

	for _, m := range spec.Matches {
		var next []Tuple
		for _, t := range tuples {
			candidates, err := candidatesForMatch(ctx, src, m, t)
			if err != nil {
				return nil, err
			}
			for _, ref := range candidates {
				extended := t.clone()
				extended[m.Unknown.Name] = ref

				ok, err := passesExistentials(ctx, src, m, extended)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, extended)
				}
			}
		}
		tuples = next
	}

	return tuples, nil
}

// candidatesForMatch generates the candidate fact references for m.Unknown
// given the partially bound tuple t, by intersecting the reference sets
// implied by each of m's path conditions. Existential conditions are
// skipped here; they are applied afterward as a filter (passesExistentials).
func candidatesForMatch(ctx context.Context, src Source, m specification.Match, t Tuple) ([]fact.Reference, error) {
	var candidates map[fact.Reference]bool
	first := true

	for _, c := range m.Conditions {
		pc, ok := c.(specification.PathCondition)
		if !ok {
			continue
		}

		target, ok := t[pc.LabelRight]
		if !ok {
			return nil, fmt.Errorf("query: label %q referenced before it is bound", pc.LabelRight)
		}
		anchors, err := forward(ctx, src, target, pc.RolesRight)
		if err != nil {
			return nil, err
		}

		set := map[fact.Reference]bool{}
		for _, anchor := range anchors {
			refs, err := backward(ctx, src, anchor, pc.RolesLeft)
			if err != nil {
				return nil, err
			}
			for _, r := range refs {
				if r.Type == m.Unknown.Type {
					set[r] = true
				}
			}
		}

		if first {
			candidates = set
			first = false
		} else {
			candidates = intersect(candidates, set)
		}
	}

	if candidates == nil {
		return nil, nil
	}
	out := make([]fact.Reference, 0, len(candidates))
	for r := range candidates {
		out = append(out, r)
	}
	return out, nil
}

// passesExistentials evaluates every ExistentialCondition of m against the
// extended tuple t and reports whether all of them are satisfied. An
// existential's nested matches are evaluated as a sub-query bound to t;
// not-exists passes iff that sub-query yields no tuple (spec.md §4.5).
func passesExistentials(ctx context.Context, src Source, m specification.Match, t Tuple) (bool, error) {
	for _, c := range m.Conditions {
		ec, ok := c.(specification.ExistentialCondition)
		if !ok {
			continue
		}
		sub := &specification.Specification{Matches: ec.Matches}
		results, err := EvaluateTuples(ctx, src, sub, t)
		if err != nil {
			return false, err
		}
		exists := len(results) > 0
		if exists != ec.Exists {
			return false, nil
		}
	}
	return true, nil
}

// forward walks chain's roles as predecessor lookups starting from start,
// returning the set of references reached at the end of the chain. Each
// hop may fan out (array-valued roles); an empty chain returns {start}.
func forward(ctx context.Context, src Source, start fact.Reference, chain specification.Chain) ([]fact.Reference, error) {
	current := []fact.Reference{start}
	for _, role := range chain {
		var next []fact.Reference
		for _, ref := range current {
			refs, err := src.Predecessors(ctx, ref, role)
			if err != nil {
				return nil, err
			}
			next = append(next, refs...)
		}
		current = next
		if len(current) == 0 {
			return nil, nil
		}
	}
	return current, nil
}

// backward walks chain's roles as successor (inverse) lookups, starting
// from end and consuming the chain in reverse, returning every reference
// from which forward(ref, chain) would reach end.
func backward(ctx context.Context, src Source, end fact.Reference, chain specification.Chain) ([]fact.Reference, error) {
	current := []fact.Reference{end}
	for i := len(chain) - 1; i >= 0; i-- {
		role := chain[i]
		var next []fact.Reference
		for _, ref := range current {
			refs, err := src.Successors(ctx, ref, role)
			if err != nil {
				return nil, err
			}
			next = append(next, refs...)
		}
		current = next
		if len(current) == 0 {
			return nil, nil
		}
	}
	return current, nil
}

func intersect(a, b map[fact.Reference]bool) map[fact.Reference]bool {
	out := map[fact.Reference]bool{}
	for r := range a {
		if b[r] {
			out[r] = true
		}
	}
	return out
}
