package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/types"
)

func basicPlan() *plan.Plan {
	return &plan.Plan{
		ID:          id.NewPlanID(),
		Name:        "Basic",
		Permissions: types.NewNameSet("weather"),
		UsageLimit:  2,
	}
}

func TestEvaluate(t *testing.T) {
	p := basicPlan()

	tests := []struct {
		name    string
		api     string
		used    int64
		allowed bool
		reason  Reason
	}{
		{"first call", "weather", 0, true, ReasonGranted},
		{"last call", "weather", 1, true, ReasonGranted},
		{"at limit", "weather", 2, false, ReasonQuotaExceeded},
		{"over limit", "weather", 7, false, ReasonQuotaExceeded},
		{"not permitted", "news", 0, false, ReasonNotPermitted},
		{"not permitted wins over quota", "news", 2, false, ReasonNotPermitted},
		{"case sensitive", "Weather", 0, false, ReasonNotPermitted},
		{"no trimming", " weather", 0, false, ReasonNotPermitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.api, "u1", p, tt.used)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.used, d.Used)
			assert.Equal(t, int64(2), d.Limit)
			assert.Equal(t, p.ID, d.PlanID)
		})
	}
}

func TestEvaluateZeroLimit(t *testing.T) {
	p := basicPlan()
	p.UsageLimit = 0

	d := Evaluate("weather", "u1", p, 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestDecisionGranted(t *testing.T) {
	d := Evaluate("weather", "u1", basicPlan(), 0)
	d.Granted(1)
	assert.Equal(t, int64(1), d.Used)
	assert.Equal(t, int64(1), d.Remaining)

	d.Granted(5)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestDenied(t *testing.T) {
	d := Denied("weather", "ghost")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoSubscription, d.Reason)
	assert.True(t, d.PlanID.IsNil())
}
