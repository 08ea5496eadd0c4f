package entitlement

import (
	"github.com/xraph/turnstile/id"
)

// Reason explains an access decision.
type Reason string

const (
	ReasonGranted        Reason = "granted"
	ReasonNoSubscription Reason = "no_subscription"
	ReasonNotPermitted   Reason = "api_not_permitted"
	ReasonQuotaExceeded  Reason = "quota_exceeded"
)

// Decision is the outcome of one entitlement check. Used is the counter
// value after the check: one higher than before on a grant, unchanged on a
// denial.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	API       string    `json:"api"`
	UserID    string    `json:"user_id"`
	PlanID    id.PlanID `json:"plan_id"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Reason    Reason    `json:"reason"`
}
