// Package query implements the specification evaluator (spec.md §4.5):
// bottom-up match evaluation producing named tuples, existential
// sub-queries, and a final projection pass. There is no teacher or pack
// analog for a declarative graph-query evaluator (see DESIGN.md) — this
// package is authored directly from spec.md.
package query

import (
	"context"

	"github.com/jinaga/factengine/pkg/fact"
)

// Source is the minimal read surface the evaluator needs from a storage
// snapshot. Predecessors and Successors are the two edge kinds spec.md
// §4.5 names: a predecessor edge is a direct lookup (follow a role on the
// child to its parent or parents); a successor edge is the inverse index
// (from a parent to the children that reference it via a role).
type Source interface {
	// Predecessors returns the references held by ref's role (empty if
	// the role is absent on ref's record).
	Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error)
	// Successors returns the references of every record that lists ref
	// under role.
	Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error)
	// Record returns the full record for ref, for projection.
	Record(ctx context.Context, ref fact.Reference) (*fact.Record, error)
}

// Tuple binds label names (givens and matched unknowns) to fact
// references within one evaluation path.
type Tuple map[string]fact.Reference

func (t Tuple) clone() Tuple {
	out := make(Tuple, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	return out
}
