package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
)

// fakeSource is a minimal in-memory query.Source test double built directly
// from fact.Record values, independent of the storage package (which in
// turn depends on query.Source), to keep this package's tests free of a
// storage dependency.
type fakeSource struct {
	records map[fact.Reference]fact.Record
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: map[fact.Reference]fact.Record{}}
}

func (s *fakeSource) add(r fact.Record) fact.Reference {
	ref := r.Reference()
	s.records[ref] = r
	return ref
}

func (s *fakeSource) Predecessors(_ context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	r, ok := s.records[ref]
	if !ok {
		return nil, nil
	}
	return r.Predecessors[role].References, nil
}

func (s *fakeSource) Successors(_ context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	var out []fact.Reference
	for childRef, r := range s.records {
		for _, other := range r.Predecessors[role].References {
			if other.Equal(ref) {
				out = append(out, childRef)
			}
		}
	}
	return out, nil
}

func (s *fakeSource) Record(_ context.Context, ref fact.Reference) (*fact.Record, error) {
	r, ok := s.records[ref]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func rec(typ string, fields map[string]any, preds map[string]fact.PredecessorRole, seq int) fact.Record {
	return fact.Record{
		Type:         typ,
		Fields:       fields,
		Predecessors: preds,
		Hash:         typ + "#" + string(rune('a'+seq)),
	}
}

// buildFixture constructs one airline, two days under it, and a flight
// under the first day, wired through fakeSource so Predecessors/Successors
// reflect the predecessor edges directly.
func buildFixture() (*fakeSource, fact.Reference, fact.Reference, fact.Reference, fact.Reference) {
	src := newFakeSource()

	airline := src.add(rec("Skylane.Airline", map[string]any{"identifier": "value"}, nil, 0))

	day1 := src.add(rec("Skylane.Airline.Day",
		map[string]any{"date": "2021-07-04"},
		map[string]fact.PredecessorRole{
			"airline": {Arity: fact.ArityOne, References: []fact.Reference{airline}},
		}, 1))

	day2 := src.add(rec("Skylane.Airline.Day",
		map[string]any{"date": "2021-07-05"},
		map[string]fact.PredecessorRole{
			"airline": {Arity: fact.ArityOne, References: []fact.Reference{airline}},
		}, 2))

	flight := src.add(rec("Skylane.Flight",
		map[string]any{"number": "1"},
		map[string]fact.PredecessorRole{
			"day": {Arity: fact.ArityOne, References: []fact.Reference{day1}},
		}, 3))

	return src, airline, day1, day2, flight
}

func TestEvaluateTuples_PathCondition(t *testing.T) {
	src, airline, day1, day2, _ := buildFixture()

	spec := &specification.Specification{
		Givens: []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "day", Type: "Skylane.Airline.Day"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{"airline"},
						LabelRight: "airline",
						RolesRight: specification.Chain{},
					},
				},
			},
		},
		Projection: specification.FactProjection{Label: "day"},
	}

	tuples, err := query.EvaluateTuples(context.Background(), src, spec, query.Tuple{"airline": airline})
	require.NoError(t, err)
	require.Len(t, tuples, 2)

	got := map[fact.Reference]bool{}
	for _, tup := range tuples {
		got[tup["day"]] = true
	}
	assert.True(t, got[day1])
	assert.True(t, got[day2])
}

func TestEvaluateTuples_ExistentialNotExists(t *testing.T) {
	src, airline, _, day2, _ := buildFixture()

	spec := &specification.Specification{
		Givens: []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "day", Type: "Skylane.Airline.Day"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{"airline"},
						LabelRight: "airline",
						RolesRight: specification.Chain{},
					},
					specification.ExistentialCondition{
						Exists: false,
						Matches: []specification.Match{
							{
								Unknown: specification.Label{Name: "flight", Type: "Skylane.Flight"},
								Conditions: []specification.Condition{
									specification.PathCondition{
										RolesLeft:  specification.Chain{"day"},
										LabelRight: "day",
										RolesRight: specification.Chain{},
									},
								},
							},
						},
					},
				},
			},
		},
		Projection: specification.FactProjection{Label: "day"},
	}

	tuples, err := query.EvaluateTuples(context.Background(), src, spec, query.Tuple{"airline": airline})
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, day2, tuples[0]["day"])
}

func TestEvaluate_Projections(t *testing.T) {
	src, airline, day1, _, _ := buildFixture()

	spec := &specification.Specification{
		Givens: []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "day", Type: "Skylane.Airline.Day"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{"airline"},
						LabelRight: "airline",
						RolesRight: specification.Chain{},
					},
				},
			},
		},
		Projection: specification.CompositeProjection{
			Fields: []specification.NamedProjection{
				{Name: "day", Projection: specification.FactProjection{Label: "day"}},
				{Name: "date", Projection: specification.FieldProjection{Label: "day", Field: "date"}},
				{Name: "hash", Projection: specification.HashProjection{Label: "day"}},
			},
		},
	}

	results, err := query.Evaluate(context.Background(), src, spec, query.Tuple{"airline": airline})
	require.NoError(t, err)

	var found bool
	for _, r := range results {
		m := r.(map[string]any)
		if m["day"].(fact.Reference).Equal(day1) {
			found = true
			assert.Equal(t, "2021-07-04", m["date"])
			assert.Equal(t, day1.Hash, m["hash"])
		}
	}
	assert.True(t, found)
}

func TestEvaluate_IdentityFastPath(t *testing.T) {
	src, airline, _, _, _ := buildFixture()

	spec := &specification.Specification{
		Givens:     []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
		Projection: specification.FactProjection{Label: "airline"},
	}
	require.True(t, spec.IsIdentity())

	results, err := query.Evaluate(context.Background(), src, spec, query.Tuple{"airline": airline})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, airline, results[0].(fact.Reference))
}

func TestEvaluateTuples_NoMatchingCandidatesYieldsNoTuples(t *testing.T) {
	src := newFakeSource()
	orphan := src.add(rec("Skylane.Airline", map[string]any{"identifier": "orphan"}, nil, 0))

	spec := &specification.Specification{
		Givens: []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "day", Type: "Skylane.Airline.Day"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{"airline"},
						LabelRight: "airline",
						RolesRight: specification.Chain{},
					},
				},
			},
		},
		Projection: specification.FactProjection{Label: "day"},
	}

	tuples, err := query.EvaluateTuples(context.Background(), src, spec, query.Tuple{"airline": orphan})
	require.NoError(t, err)
	assert.Len(t, tuples, 0)
}
