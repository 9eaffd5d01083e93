package feed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/feed"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
)

func daySpec() *specification.Specification {
	return &specification.Specification{
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
}

func TestBuild_Skeleton(t *testing.T) {
	sk := feed.Build(daySpec())
	require.Len(t, sk.FactTypes, 2)
	require.Len(t, sk.Edges, 1)
	assert.Equal(t, specification.Chain{"airline"}, sk.Edges[0].FromChain)
	assert.Len(t, sk.NotExists, 0)
}

func TestBuild_SkeletonFlattensNotExistsOneLevel(t *testing.T) {
	spec := daySpec()
	spec.Matches[0].Conditions = append(spec.Matches[0].Conditions, specification.ExistentialCondition{
		Exists: false,
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "flight", Type: "Skylane.Flight"},
				Conditions: []specification.Condition{
					specification.PathCondition{RolesLeft: specification.Chain{"day"}, LabelRight: "day", RolesRight: specification.Chain{}},
				},
			},
		},
	})

	sk := feed.Build(spec)
	require.Len(t, sk.NotExists, 1)
	assert.Len(t, sk.NotExists[0].Edges, 1)
}

func TestSkeleton_EquivalentUnderLabelRenaming(t *testing.T) {
	a := daySpec()

	b := &specification.Specification{
		Givens: []specification.Given{{Name: "carrier", Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "d", Type: "Skylane.Airline.Day"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{"airline"},
						LabelRight: "carrier",
						RolesRight: specification.Chain{},
					},
				},
			},
		},
		Projection: specification.FactProjection{Label: "d"},
	}

	assert.True(t, feed.Build(a).Equivalent(feed.Build(b)))
}

func TestSkeleton_NotEquivalentOnDifferentShape(t *testing.T) {
	a := feed.Build(daySpec())

	differentChain := daySpec()
	differentChain.Matches[0].Conditions[0] = specification.PathCondition{
		RolesLeft:  specification.Chain{"airline", "extra"},
		LabelRight: "airline",
		RolesRight: specification.Chain{},
	}
	b := feed.Build(differentChain)

	assert.False(t, a.Equivalent(b))
}

func TestDecompose_OneFeedPerNotExists(t *testing.T) {
	spec := daySpec()
	spec.Matches[0].Conditions = append(spec.Matches[0].Conditions, specification.ExistentialCondition{
		Exists: false,
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "flight", Type: "Skylane.Flight"},
				Conditions: []specification.Condition{
					specification.PathCondition{RolesLeft: specification.Chain{"day"}, LabelRight: "day", RolesRight: specification.Chain{}},
				},
			},
		},
	})

	feeds := feed.Decompose(spec)
	require.Len(t, feeds, 2)
	assert.Same(t, spec, feeds[0])
	assert.Equal(t, "flight", feeds[1].Matches[0].Unknown.Name)
}

// fakeSource mirrors the one in pkg/query's tests, duplicated locally
// since it is unexported there.
type fakeSource struct {
	records map[fact.Reference]fact.Record
}

func newFakeSource() *fakeSource { return &fakeSource{records: map[fact.Reference]fact.Record{}} }

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

func TestInverses_AdditiveMatchRederivesGiven(t *testing.T) {
	src := newFakeSource()
	airlineRef := src.add(fact.Record{Type: "Skylane.Airline", Fields: map[string]any{"identifier": "value"}, Hash: "a1"})
	dayRef := src.add(fact.Record{
		Type:   "Skylane.Airline.Day",
		Fields: map[string]any{"date": "2021-07-04"},
		Predecessors: map[string]fact.PredecessorRole{
			"airline": {Arity: fact.ArityOne, References: []fact.Reference{airlineRef}},
		},
		Hash: "d1",
	})

	inverses := feed.Inverses(daySpec())
	require.Len(t, inverses, 1)
	inv := inverses[0]
	assert.Equal(t, "Skylane.Airline.Day", inv.TriggerType)
	assert.Equal(t, feed.Add, inv.Operation)

	results, err := query.Evaluate(context.Background(), src, inv.Specification, query.Tuple{inv.TriggerLabel: dayRef})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, dayRef, results[0].(fact.Reference))
}

func TestInverses_NotExistsYieldsRemoval(t *testing.T) {
	spec := daySpec()
	spec.Matches[0].Conditions = append(spec.Matches[0].Conditions, specification.ExistentialCondition{
		Exists: false,
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "flight", Type: "Skylane.Flight"},
				Conditions: []specification.Condition{
					specification.PathCondition{RolesLeft: specification.Chain{"day"}, LabelRight: "day", RolesRight: specification.Chain{}},
				},
			},
		},
	})

	inverses := feed.Inverses(spec)
	require.Len(t, inverses, 2)

	var removal *feed.Inverse
	for i := range inverses {
		if inverses[i].Operation == feed.Remove {
			removal = &inverses[i]
		}
	}
	require.NotNil(t, removal)
	assert.Equal(t, "Skylane.Flight", removal.TriggerType)
}
