package distribution_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/distribution"
	"github.com/jinaga/factengine/pkg/engineerr"
	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
	"github.com/jinaga/factengine/pkg/storage"
)

type user struct {
	PublicKey string `fact:"field"`
}

func (u *user) FactType() string { return "Jinaga.User" }

type airline struct {
	Owner *user  `fact:"predecessor"`
	Name  string `fact:"field"`
}

func (a *airline) FactType() string { return "Skylane.Airline" }

type airlineDay struct {
	Airline *airline `fact:"predecessor"`
	Date    string   `fact:"field"`
}

func (d *airlineDay) FactType() string { return "Skylane.Airline.Day" }

func daySpec(givenName string) *specification.Specification {
	return &specification.Specification{
		Givens: []specification.Given{{Name: givenName, Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "day", Type: "Skylane.Airline.Day"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{"airline"},
						LabelRight: givenName,
						RolesRight: specification.Chain{},
					},
				},
			},
		},
		Projection: specification.FactProjection{Label: "day"},
	}
}

func ownerSpec(givenName string) *specification.Specification {
	return &specification.Specification{
		Givens: []specification.Given{{Name: givenName, Type: "Skylane.Airline"}},
		Matches: []specification.Match{
			{
				Unknown: specification.Label{Name: "owner", Type: "Jinaga.User"},
				Conditions: []specification.Condition{
					specification.PathCondition{
						RolesLeft:  specification.Chain{},
						LabelRight: givenName,
						RolesRight: specification.Chain{"owner"},
					},
				},
			},
		},
		Projection: specification.FactProjection{Label: "owner"},
	}
}

func seed(t *testing.T) (*storage.Memory, fact.Reference) {
	t.Helper()
	store := storage.NewMemory(0)
	ctx := context.Background()

	u := &user{PublicKey: "owner-key"}
	a := &airline{Owner: u, Name: "Skylane"}
	records, _, err := fact.Dehydrate(a)
	require.NoError(t, err)
	envs := make([]fact.Envelope, len(records))
	for i, r := range records {
		envs[i] = fact.Envelope{Fact: r}
	}
	_, err = store.Save(ctx, envs)
	require.NoError(t, err)

	var airlineRef fact.Reference
	for _, r := range records {
		if r.Type == "Skylane.Airline" {
			airlineRef = r.Reference()
		}
	}
	return store, airlineRef
}

func TestAuthorize_EveryoneRuleAccepts(t *testing.T) {
	store, airlineRef := seed(t)
	engine := distribution.NewEngine()
	require.NoError(t, engine.Declare(distribution.Rule{
		Description:   "everyone may read any airline's days",
		Specification: daySpec("airline"),
		Everyone:      true,
	}))

	err := engine.Authorize(context.Background(), store, daySpec("requestedAirline"), "days for an airline",
		query.Tuple{"requestedAirline": airlineRef}, "anyone")
	assert.NoError(t, err)
}

func TestAuthorize_MatchesUnderLabelRenaming(t *testing.T) {
	store, airlineRef := seed(t)
	engine := distribution.NewEngine()
	require.NoError(t, engine.Declare(distribution.Rule{
		Description:   "renamed-label rule still matches by shape",
		Specification: daySpec("carrier"),
		Everyone:      true,
	}))

	err := engine.Authorize(context.Background(), store, daySpec("theAirline"), "days",
		query.Tuple{"theAirline": airlineRef}, "anyone")
	assert.NoError(t, err)
}

func TestAuthorize_OwnerOnlyRuleAcceptsOwner(t *testing.T) {
	store, airlineRef := seed(t)
	engine := distribution.NewEngine()
	require.NoError(t, engine.Declare(distribution.Rule{
		Description:       "only the owner may read",
		Specification:     daySpec("airline"),
		UserSpecification: ownerSpec("airline"),
	}))

	err := engine.Authorize(context.Background(), store, daySpec("airline"), "days",
		query.Tuple{"airline": airlineRef}, "owner-key")
	assert.NoError(t, err)

	err = engine.Authorize(context.Background(), store, daySpec("airline"), "days",
		query.Tuple{"airline": airlineRef}, "someone-else-key")
	require.Error(t, err)
	var notAuthorized *engineerr.NotAuthorizedToRead
	require.ErrorAs(t, err, &notAuthorized)
}

func TestAuthorize_NoRuleMatchesFailsWithReasons(t *testing.T) {
	store, airlineRef := seed(t)
	engine := distribution.NewEngine()

	err := engine.Authorize(context.Background(), store, daySpec("airline"), "days",
		query.Tuple{"airline": airlineRef}, "anyone")
	require.Error(t, err)
	var notAuthorized *engineerr.NotAuthorizedToRead
	require.ErrorAs(t, err, &notAuthorized)
	assert.Equal(t, "days", notAuthorized.FeedDescription)
}

func TestAuthorize_FastPathExcludesRule(t *testing.T) {
	store, airlineRef := seed(t)
	engine := distribution.NewEngine()
	require.NoError(t, engine.Declare(distribution.Rule{
		Description:   "only for airlines named Other",
		Specification: daySpec("airline"),
		Everyone:      true,
		FastPath:      `fields["airline.name"] == "Other"`,
	}))

	err := engine.Authorize(context.Background(), store, daySpec("airline"), "days",
		query.Tuple{"airline": airlineRef}, "anyone")
	require.Error(t, err)
}
