package topo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/topo"
)

func rec(t *testing.T, typ string, preds ...fact.Reference) fact.Record {
	t.Helper()
	role := map[string]fact.PredecessorRole{}
	if len(preds) > 0 {
		role["prev"] = fact.PredecessorRole{Arity: fact.ArityMany, References: preds}
	}
	r, err := fact.NewRecord(typ, map[string]any{"n": typ}, role)
	require.NoError(t, err)
	return *r
}

func TestSortOrdersPredecessorsFirst(t *testing.T) {
	a := rec(t, "A")
	b := rec(t, "B", a.Reference())
	c := rec(t, "C", b.Reference(), a.Reference())

	// feed in reverse order to make sure Sort does real work
	out, err := topo.Sort([]fact.Record{c, b, a})
	require.NoError(t, err)
	require.Len(t, out, 3)

	position := map[string]int{}
	for i, r := range out {
		position[r.Hash] = i
	}
	for _, r := range out {
		for _, role := range r.Predecessors {
			for _, ref := range role.References {
				assert.Less(t, position[ref.Hash], position[r.Hash])
			}
		}
	}
}

func TestSortUnknownPredecessorPreSatisfied(t *testing.T) {
	unknown := fact.Reference{Type: "Ghost", Hash: "does-not-exist"}
	b := rec(t, "B", unknown)

	out, err := topo.Sort([]fact.Record{b})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestSortDetectsCycle(t *testing.T) {
	// Construct two records whose hashes reference each other directly —
	// impossible for genuinely hashed facts, but Sort must still reject
	// malformed input rather than loop forever.
	a := rec(t, "A")
	b := rec(t, "B", a.Reference())

	// Corrupt a's predecessors post-hoc to point at b, forming a cycle.
	a.Predecessors = map[string]fact.PredecessorRole{
		"prev": {Arity: fact.ArityMany, References: []fact.Reference{b.Reference()}},
	}

	_, err := topo.Sort([]fact.Record{a, b})
	require.Error(t, err)
}
