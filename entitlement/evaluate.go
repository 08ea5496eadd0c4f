package entitlement

import (
	"github.com/xraph/turnstile/plan"
)

// Evaluate decides whether userID may call api once more under p, given the
// counter value used. It has no side effects; a granted Decision still
// needs the counter advanced by the caller.
//
// The permission check runs before the quota check, so an exhausted user
// calling a non-permitted API is told the API is not permitted.
func Evaluate(api, userID string, p *plan.Plan, used int64) *Decision {
	d := &Decision{
		API:       api,
		UserID:    userID,
		PlanID:    p.ID,
		Used:      used,
		Limit:     p.UsageLimit,
		Remaining: p.Remaining(used),
	}

	switch {
	case !p.Permits(api):
		d.Reason = ReasonNotPermitted
	case used >= p.UsageLimit:
		d.Reason = ReasonQuotaExceeded
	default:
		d.Allowed = true
		d.Reason = ReasonGranted
	}
	return d
}

// Denied returns the Decision for a user with no subscription.
func Denied(api, userID string) *Decision {
	return &Decision{API: api, UserID: userID, Reason: ReasonNoSubscription}
}

// Granted records a successful increment: the counter now stands at used.
func (d *Decision) Granted(used int64) {
	d.Used = used
	d.Remaining = max(0, d.Limit-used)
}
