package observable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/feed"
	"github.com/jinaga/factengine/pkg/observable"
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

func TestSource_NotifyDeliversToScopedListener(t *testing.T) {
	store := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	other := &airline{Identifier: "other"}
	records, _, err := fact.Dehydrate(a)
	require.NoError(t, err)
	otherRecords, _, err := fact.Dehydrate(other)
	require.NoError(t, err)
	_, err = store.Save(ctx, []fact.Envelope{{Fact: records[0]}, {Fact: otherRecords[0]}})
	require.NoError(t, err)

	airlineRef := records[0].Reference()
	otherRef := otherRecords[0].Reference()

	src := observable.New(nil)

	var delivered []any
	src.Subscribe(daySpec(), query.Tuple{"airline": airlineRef}, func(_ context.Context, result any, op feed.Operation) error {
		assert.Equal(t, feed.Add, op)
		delivered = append(delivered, result)
		return nil
	})

	d := &airlineDay{Airline: a, Date: "2021-07-04"}
	dayEnvelopes, err := dehydrateEnvelopes(d)
	require.NoError(t, err)
	newlySaved, err := store.Save(ctx, dayEnvelopes)
	require.NoError(t, err)

	otherDay := &airlineDay{Airline: other, Date: "2021-07-05"}
	otherDayEnvelopes, err := dehydrateEnvelopes(otherDay)
	require.NoError(t, err)
	otherSaved, err := store.Save(ctx, otherDayEnvelopes)
	require.NoError(t, err)

	all := append(append([]fact.Envelope{}, newlySaved...), otherSaved...)
	src.Notify(ctx, store, all)

	require.Len(t, delivered, 1, "only the subscribed airline's day must be delivered")
	assert.Equal(t, "Skylane.Airline.Day", delivered[0].(fact.Reference).Type)

	_ = otherRef
}

func TestSource_UnsubscribeStopsDelivery(t *testing.T) {
	store := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	records, _, err := fact.Dehydrate(a)
	require.NoError(t, err)
	_, err = store.Save(ctx, []fact.Envelope{{Fact: records[0]}})
	require.NoError(t, err)
	airlineRef := records[0].Reference()

	src := observable.New(nil)
	delivered := 0
	id := src.Subscribe(daySpec(), query.Tuple{"airline": airlineRef}, func(_ context.Context, _ any, _ feed.Operation) error {
		delivered++
		return nil
	})
	src.Unsubscribe(id)

	d := &airlineDay{Airline: a, Date: "2021-07-04"}
	envs, err := dehydrateEnvelopes(d)
	require.NoError(t, err)
	saved, err := store.Save(ctx, envs)
	require.NoError(t, err)

	src.Notify(ctx, store, saved)
	assert.Equal(t, 0, delivered)
}

func TestSource_CallbackErrorDoesNotUnregister(t *testing.T) {
	store := storage.NewMemory(0)
	ctx := context.Background()

	a := &airline{Identifier: "value"}
	records, _, err := fact.Dehydrate(a)
	require.NoError(t, err)
	_, err = store.Save(ctx, []fact.Envelope{{Fact: records[0]}})
	require.NoError(t, err)
	airlineRef := records[0].Reference()

	src := observable.New(nil)
	calls := 0
	src.Subscribe(daySpec(), query.Tuple{"airline": airlineRef}, func(_ context.Context, _ any, _ feed.Operation) error {
		calls++
		return errors.New("boom")
	})

	d1 := &airlineDay{Airline: a, Date: "2021-07-04"}
	d2 := &airlineDay{Airline: a, Date: "2021-07-05"}
	envs1, err := dehydrateEnvelopes(d1)
	require.NoError(t, err)
	saved1, err := store.Save(ctx, envs1)
	require.NoError(t, err)
	src.Notify(ctx, store, saved1)

	envs2, err := dehydrateEnvelopes(d2)
	require.NoError(t, err)
	saved2, err := store.Save(ctx, envs2)
	require.NoError(t, err)
	src.Notify(ctx, store, saved2)

	assert.Equal(t, 2, calls, "a failing callback must stay registered for subsequent notifications")
}

func dehydrateEnvelopes(obj fact.Fact) ([]fact.Envelope, error) {
	records, _, err := fact.Dehydrate(obj)
	if err != nil {
		return nil, err
	}
	envs := make([]fact.Envelope, len(records))
	for i, r := range records {
		envs[i] = fact.Envelope{Fact: r}
	}
	return envs, nil
}
