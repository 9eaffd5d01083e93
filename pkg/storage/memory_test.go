package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
	"github.com/jinaga/factengine/pkg/storage"
)

type airline struct {
	Identifier string `fact:"field"`
}

func (a *airline) FactType() string { return "Skylane.Airline" }

type airlineDay struct {
	Airline *airline `fact:"predecessor"`
	Date    string   `fact:"field"`
}

func (d *airlineDay) FactType() string { return "Skylane.Airline.Day" }

func dehydrateAll(t *testing.T, objs ...fact.Fact) []fact.Envelope {
	t.Helper()
	byHash := map[string]fact.Record{}
	var order []string
	for _, o := range objs {
		records, _, err := fact.Dehydrate(o)
		require.NoError(t, err)
		for _, r := range records {
			if _, ok := byHash[r.Hash]; !ok {
				byHash[r.Hash] = r
				order = append(order, r.Hash)
			}
		}
	}
	envs := make([]fact.Envelope, 0, len(order))
	for _, h := range order {
		envs = append(envs, fact.Envelope{Fact: byHash[h]})
	}
	return envs
}

func TestMemory_SaveIsIdempotentAndReportsOnlyNew(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	d := &airlineDay{Airline: a, Date: "2021-07-04"}
	envs := dehydrateAll(t, d)

	saved1, err := m.Save(ctx, envs)
	require.NoError(t, err)
	assert.Len(t, saved1, 2)

	saved2, err := m.Save(ctx, envs)
	require.NoError(t, err)
	assert.Len(t, saved2, 0, "re-saving the same facts must not report them as new")
}

func TestMemory_WhichExist(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	envs := dehydrateAll(t, a)
	_, err := m.Save(ctx, envs)
	require.NoError(t, err)

	airlineRef := envs[0].Fact.Reference()
	unknownRef := fact.Reference{Type: "Skylane.Airline", Hash: "nope"}

	exist, err := m.WhichExist(ctx, []fact.Reference{airlineRef, unknownRef})
	require.NoError(t, err)
	require.Len(t, exist, 1)
	assert.Equal(t, airlineRef, exist[0])
}

func TestMemory_LoadReturnsAncestorClosure(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	d := &airlineDay{Airline: &airline{Identifier: "value"}, Date: "2021-07-04"}
	envs := dehydrateAll(t, d)
	_, err := m.Save(ctx, envs)
	require.NoError(t, err)

	dayRef := envs[len(envs)-1].Fact.Reference()
	loaded, err := m.Load(ctx, []fact.Reference{dayRef})
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "loading a day must also return its airline ancestor")
}

func TestMemory_SaveRejectsMissingPredecessor(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	orphanDay := fact.Record{
		Type:   "Skylane.Airline.Day",
		Fields: map[string]any{"date": "2021-07-04"},
		Predecessors: map[string]fact.PredecessorRole{
			"airline": {Arity: fact.ArityOne, References: []fact.Reference{{Type: "Skylane.Airline", Hash: "missing"}}},
		},
		Hash: "day-hash",
	}

	_, err := m.Save(ctx, []fact.Envelope{{Fact: orphanDay}})
	require.Error(t, err)
}

func TestMemory_ReadEvaluatesSpecification(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	d1 := &airlineDay{Airline: a, Date: "2021-07-04"}
	d2 := &airlineDay{Airline: a, Date: "2021-07-05"}
	envs := dehydrateAll(t, d1, d2)
	_, err := m.Save(ctx, envs)
	require.NoError(t, err)

	var airlineRef fact.Reference
	for _, e := range envs {
		if e.Fact.Type == "Skylane.Airline" {
			airlineRef = e.Fact.Reference()
		}
	}

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

	results, err := m.Read(ctx, query.Tuple{"airline": airlineRef}, spec)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemory_FeedBookmarkAdvances(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	envs := dehydrateAll(t, a)
	_, err := m.Save(ctx, envs)
	require.NoError(t, err)
	airlineRef := envs[0].Fact.Reference()

	spec := &specification.Specification{
		Givens:     []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
		Projection: specification.FactProjection{Label: "airline"},
	}

	result1, err := m.Feed(ctx, spec, "airline", query.Tuple{"airline": airlineRef}, "")
	require.NoError(t, err)
	assert.Len(t, result1.References, 1)

	result2, err := m.Feed(ctx, spec, "airline", query.Tuple{"airline": airlineRef}, result1.NextBookmark)
	require.NoError(t, err)
	assert.Len(t, result2.References, 0, "second feed call with the advanced bookmark yields nothing new")
}

func TestMemory_RegisterPurgeConditionRejectsExistential(t *testing.T) {
	m := storage.NewMemory(0)
	cond := storage.PurgeCondition{
		Specification: &specification.Specification{
			Givens: []specification.Given{{Name: "airline", Type: "Skylane.Airline"}},
			Matches: []specification.Match{
				{
					Unknown: specification.Label{Name: "day", Type: "Skylane.Airline.Day"},
					Conditions: []specification.Condition{
						specification.ExistentialCondition{Exists: true},
					},
				},
			},
		},
	}
	err := m.RegisterPurgeCondition(cond)
	require.Error(t, err)
}

func TestMemory_PurgeRemovesDescendants(t *testing.T) {
	m := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	d := &airlineDay{Airline: a, Date: "2021-07-04"}
	envs := dehydrateAll(t, d)
	_, err := m.Save(ctx, envs)
	require.NoError(t, err)

	var airlineRef, dayRef fact.Reference
	for _, e := range envs {
		if e.Fact.Type == "Skylane.Airline" {
			airlineRef = e.Fact.Reference()
		} else {
			dayRef = e.Fact.Reference()
		}
	}

	cond := storage.PurgeCondition{
		Specification: &specification.Specification{
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
		},
	}
	require.NoError(t, m.RegisterPurgeCondition(cond))
	require.NoError(t, m.Purge(ctx, []fact.Reference{airlineRef}))

	exist, err := m.WhichExist(ctx, []fact.Reference{dayRef})
	require.NoError(t, err)
	assert.Len(t, exist, 0)
}
