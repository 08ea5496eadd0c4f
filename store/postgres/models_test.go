package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

func TestPlanModelDelimitedPermissions(t *testing.T) {
	p := &plan.Plan{
		Entity:      types.NewEntity(),
		ID:          id.NewPlanID(),
		Name:        "Basic",
		Permissions: types.NewNameSet("weather", "news"),
		UsageLimit:  2,
	}

	m := toPlanModel(p)
	assert.Equal(t, "news,weather", m.APIPermissions)

	back, err := fromPlanModel(m)
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, []string{"news", "weather"}, back.Permissions.Names())

	m.APIPermissions = ""
	back, err = fromPlanModel(m)
	require.NoError(t, err)
	assert.Equal(t, 0, back.Permissions.Len())
}

func TestSubscriptionModelRejectsForeignIDs(t *testing.T) {
	m := toSubscriptionModel(&subscription.UserSubscription{
		ID:     id.NewSubscriptionID(),
		UserID: "u1",
		PlanID: id.NewPlanID(),
	})
	m.PlanID = id.NewPermissionID().String()

	_, err := fromSubscriptionModel(m)
	assert.Error(t, err)
}
