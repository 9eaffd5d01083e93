// Package feed implements feed decomposition, skeleton extraction, and
// inverse-specification derivation (spec.md §4.6). There is no teacher or
// pack analog for reactive query inversion over a fact graph (HELM's
// proof graph is append-only and walked by hash, never queried
// declaratively) — this package is authored directly from spec.md.
package feed

import (
	"sort"

	"github.com/jinaga/factengine/pkg/specification"
)

// Edge is one positive path condition in a skeleton, expressed between two
// fact indices rather than label names so that two specifications with
// the same shape but different label names produce equal skeletons.
type Edge struct {
	FromFact  int
	FromChain specification.Chain
	ToFact    int
	ToChain   specification.Chain
}

// Skeleton is the shape of a specification with existentials flattened
// one level (spec.md §4.6): the facts it touches, the positive path
// conditions between them, and one nested Skeleton per not-exists
// condition. Existentials nested more than one level deep are not
// descended into here (Open Question decision #3 in DESIGN.md); they
// remain on the originating Specification but play no part in feed
// partitioning or skeleton equality.
type Skeleton struct {
	FactTypes []string
	// GivenCount is how many of the leading FactTypes entries are givens
	// (as opposed to match unknowns). Permutations used for equivalence
	// never map a given index onto an unknown index or vice versa, since
	// the two play structurally different roles even when their types
	// coincide.
	GivenCount int
	Edges      []Edge
	NotExists  []*Skeleton
}

// Build extracts the skeleton of spec: givens and match unknowns become
// fact indices in declaration order, PathConditions become Edges, and
// Exists=false conditions recurse one level into NotExists.
func Build(spec *specification.Specification) *Skeleton {
	return build(spec.Givens, spec.Matches, 0)
}

func build(givens []specification.Given, matches []specification.Match, depth int) *Skeleton {
	index := map[string]int{}
	var types []string
	add := func(name, typ string) int {
		if i, ok := index[name]; ok {
			return i
		}
		i := len(types)
		index[name] = i
		types = append(types, typ)
		return i
	}
	for _, g := range givens {
		add(g.Name, g.Type)
	}

	sk := &Skeleton{GivenCount: len(givens)}
	for _, m := range matches {
		to := add(m.Unknown.Name, m.Unknown.Type)
		for _, c := range m.Conditions {
			switch cond := c.(type) {
			case specification.PathCondition:
				from, ok := index[cond.LabelRight]
				if !ok {
					from = add(cond.LabelRight, "")
				}
				sk.Edges = append(sk.Edges, Edge{
					FromFact: to, FromChain: cond.RolesLeft,
					ToFact: from, ToChain: cond.RolesRight,
				})
			case specification.ExistentialCondition:
				if depth == 0 && !cond.Exists {
					sk.NotExists = append(sk.NotExists, build(givens, cond.Matches, depth+1))
				}
				// Exists=true conditions, and anything beyond depth 0,
				// are preserved on the specification but not partitioned
				// into a skeleton branch.
			}
		}
	}
	sk.FactTypes = types
	return sk
}

// Equivalent reports whether a and b describe the same shape up to a
// permutation of their fact indices (spec.md §3: "Two feeds are
// equivalent iff their fact sets, edge sets, and not-exists sets are
// equal as unordered sets after permutation of inputs").
func (a *Skeleton) Equivalent(b *Skeleton) bool {
	_, ok := a.FindPermutation(b)
	return ok
}

// FindPermutation searches for a permutation of b's fact indices that is
// type- and given/unknown-role-compatible with a's and makes the two
// skeletons' edge sets and not-exists sets equal, returning perm such
// that a's fact index i corresponds to b's fact index perm[i]. This is
// exponential in the number of facts but feeds are small (typically
// under a dozen facts) so brute force is acceptable in practice.
func (a *Skeleton) FindPermutation(b *Skeleton) ([]int, bool) {
	if len(a.FactTypes) != len(b.FactTypes) {
		return nil, false
	}
	if a.GivenCount != b.GivenCount {
		return nil, false
	}
	if len(a.Edges) != len(b.Edges) {
		return nil, false
	}
	if len(a.NotExists) != len(b.NotExists) {
		return nil, false
	}

	n := len(a.FactTypes)
	perm := make([]int, n)
	used := make([]bool, n)

	var tryPermutations func(i int) bool
	tryPermutations = func(i int) bool {
		if i == n {
			return a.matchesUnderPermutation(b, perm)
		}
		for j := 0; j < n; j++ {
			if used[j] || a.FactTypes[i] != b.FactTypes[j] {
				continue
			}
			if (i < a.GivenCount) != (j < b.GivenCount) {
				continue
			}
			used[j] = true
			perm[i] = j
			if tryPermutations(i + 1) {
				used[j] = false
				return true
			}
			used[j] = false
		}
		return false
	}

	if !tryPermutations(0) {
		return nil, false
	}
	return perm, true
}

// matchesUnderPermutation checks edge-set and not-exists-set equality
// once perm maps a's fact index i to b's fact index perm[i].
func (a *Skeleton) matchesUnderPermutation(b *Skeleton, perm []int) bool {
	mapped := make([]Edge, len(a.Edges))
	for i, e := range a.Edges {
		mapped[i] = Edge{
			FromFact: perm[e.FromFact], FromChain: e.FromChain,
			ToFact: perm[e.ToFact], ToChain: e.ToChain,
		}
	}
	if !edgeSetEqual(mapped, b.Edges) {
		return false
	}

	remaining := make([]*Skeleton, len(b.NotExists))
	copy(remaining, b.NotExists)
	for _, ane := range a.NotExists {
		found := -1
		for i, bne := range remaining {
			if bne != nil && ane.Equivalent(bne) {
				found = i
				break
			}
		}
		if found == -1 {
			return false
		}
		remaining[found] = nil
	}
	return true
}

func edgeSetEqual(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedEdgeKeys(a)
	bs := sortedEdgeKeys(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sortedEdgeKeys(edges []Edge) []string {
	keys := make([]string, len(edges))
	for i, e := range edges {
		keys[i] = edgeKey(e)
	}
	sort.Strings(keys)
	return keys
}

func edgeKey(e Edge) string {
	return chainKey(e.FromChain) + "#" + itoa(e.FromFact) + "->" + chainKey(e.ToChain) + "#" + itoa(e.ToFact)
}

func chainKey(c specification.Chain) string {
	out := ""
	for i, r := range c {
		if i > 0 {
			out += "."
		}
		out += r
	}
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// Decompose returns the feeds implied by spec (spec.md §4.6): the main
// specification itself, plus one specification per not-exists condition
// at depth 0, treated as a positive feed over that condition's matches so
// its appearance can be observed.
func Decompose(spec *specification.Specification) []*specification.Specification {
	feeds := []*specification.Specification{spec}

	for _, m := range spec.Matches {
		for _, c := range m.Conditions {
			ec, ok := c.(specification.ExistentialCondition)
			if !ok || ec.Exists {
				continue
			}
			if len(ec.Matches) == 0 {
				continue
			}
			last := ec.Matches[len(ec.Matches)-1]
			feeds = append(feeds, &specification.Specification{
				Givens:     spec.Givens,
				Matches:    ec.Matches,
				Projection: specification.FactProjection{Label: last.Unknown.Name},
			})
		}
	}
	return feeds
}
