// Package specification defines the AST for declarative fact-graph
// queries: givens, matches with path/existential conditions, and
// projections (spec.md §4.4). There is no teacher or pack analog for a
// declarative graph-query language (see DESIGN.md) — this package is
// authored directly from spec.md.
package specification

// Label names a typed slot in a specification's scope: a given, or the
// unknown introduced by a match.
type Label struct {
	Name string
	Type string
}

// Given is a named, typed input bound at query time. Givens are in scope
// for every match and for the top-level projection.
type Given = Label

// Chain is an ordered sequence of predecessor-role names, walked from a
// label toward its ancestors.
type Chain []string

// PathCondition equates two predecessor chains: the chain of roles
// starting at the match's unknown must resolve to the same fact as the
// chain of roles starting at another (earlier-scoped) label.
type PathCondition struct {
	RolesLeft  Chain // chain on the unknown being constrained
	LabelRight string
	RolesRight Chain // chain on the other label
}

func (PathCondition) isCondition() {}

// ExistentialCondition asserts the existence (Exists=true) or
// non-existence (Exists=false) of at least one tuple satisfying a nested
// list of matches, evaluated in the scope of the bound tuple so far.
// Existential conditions introduce a nested scope; they never add labels
// to the enclosing scope.
type ExistentialCondition struct {
	Exists  bool
	Matches []Match
}

func (ExistentialCondition) isCondition() {}

// Condition is either a PathCondition or an ExistentialCondition.
type Condition interface {
	isCondition()
}

// Match introduces an unknown constrained by an ordered list of
// conditions, evaluated left to right.
type Match struct {
	Unknown    Label
	Conditions []Condition
}

// Projection produces the specification's result shape from a bound tuple.
type Projection interface {
	isProjection()
}

// FactProjection projects a single label's fact reference.
type FactProjection struct {
	Label string
}

func (FactProjection) isProjection() {}

// FieldProjection projects one scalar field of a label's fact.
type FieldProjection struct {
	Label string
	Field string
}

func (FieldProjection) isProjection() {}

// HashProjection projects a label's content hash.
type HashProjection struct {
	Label string
}

func (HashProjection) isProjection() {}

// NamedProjection is one entry of a CompositeProjection. A slice (rather
// than a map) keeps projection order deterministic, matching how the
// result object's keys are emitted.
type NamedProjection struct {
	Name       string
	Projection Projection
}

// CompositeProjection materializes an object mapping names to
// sub-projections.
type CompositeProjection struct {
	Fields []NamedProjection
}

func (CompositeProjection) isProjection() {}

// SpecificationProjection recursively evaluates a nested specification
// with the bound tuple extended by one given (Label), flattening the
// nested results into a sequence under Name.
type SpecificationProjection struct {
	Label         string
	Specification *Specification
}

func (SpecificationProjection) isProjection() {}

// Specification is a declarative relational pattern over the fact graph:
// named typed givens, an ordered list of matches, and a projection.
type Specification struct {
	Givens     []Given
	Matches    []Match
	Projection Projection
}

// IsIdentity reports whether s has no matches and projects a single given
// label directly — the optimized identity path of spec.md §4.4.
func (s *Specification) IsIdentity() bool {
	if len(s.Matches) != 0 {
		return false
	}
	fp, ok := s.Projection.(FactProjection)
	if !ok {
		return false
	}
	for _, g := range s.Givens {
		if g.Name == fp.Label {
			return true
		}
	}
	return false
}
