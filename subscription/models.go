package subscription

import (
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/types"
)

// UserSubscription binds one external user to one plan plus a lifetime
// usage counter. There is at most one subscription per user.
type UserSubscription struct {
	types.Entity
	ID         id.SubscriptionID `json:"id"`
	UserID     string            `json:"user_id"`
	PlanID     id.PlanID         `json:"plan_id"`
	UsageCount int64             `json:"usage_count"`
}
