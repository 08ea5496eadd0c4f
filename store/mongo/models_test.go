package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/types"
)

func TestPlanModelStoresSortedArray(t *testing.T) {
	p := &plan.Plan{
		Entity:      types.NewEntity(),
		ID:          id.NewPlanID(),
		Name:        "Basic",
		Permissions: types.NewNameSet("weather", "news"),
		UsageLimit:  2,
	}

	m := toPlanModel(p)
	assert.Equal(t, []string{"news", "weather"}, m.APIPermissions)

	back, err := fromPlanModel(m)
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)
	assert.True(t, back.Permits("weather"))
	assert.Equal(t, int64(2), back.UsageLimit)
}

func TestUniqueIndexes(t *testing.T) {
	idx := migrationIndexes()

	for _, col := range []string{colPlans, colPermissions, colSubscriptions} {
		require.NotEmpty(t, idx[col], col)
		assert.NotNil(t, idx[col][0].Options, "%s needs a unique index", col)
	}
}
