package subscription

import (
	"context"

	"github.com/xraph/turnstile/id"
)

// Store persists user subscriptions.
//
// Every method that changes plan_id also zeroes usage_count in the same
// atomic write, and ConsumeUsage only succeeds against the plan binding the
// caller evaluated. Together these keep a reader from observing a new plan
// with an old counter.
//
// Writes that bind a subscription to a plan check the plan's existence in
// the same atomic write, and plan.Store.DeletePlan refuses a referenced
// plan, so a subscription never points at a deleted plan.
type Store interface {
	// CreateSubscription inserts a new row. Returns
	// turnstile.ErrPlanNotFound if the plan does not exist and
	// turnstile.ErrSubscriptionExists if the user already has one.
	CreateSubscription(ctx context.Context, s *UserSubscription) error

	GetSubscriptionByUser(ctx context.Context, userID string) (*UserSubscription, error)
	ListSubscriptionsByPlan(ctx context.Context, planID id.PlanID, opts ListOpts) ([]*UserSubscription, error)

	// RebindSubscription points the user at planID and resets the counter.
	// Returns turnstile.ErrSubscriptionNotFound or turnstile.ErrPlanNotFound.
	RebindSubscription(ctx context.Context, userID string, planID id.PlanID) error

	// ResetUsage zeroes the counter, leaving the plan binding untouched.
	ResetUsage(ctx context.Context, userID string) error

	// ConsumeUsage atomically increments the counter by one if the
	// subscription is still bound to planID and the counter is below limit.
	// It returns the counter after the increment, or
	// turnstile.ErrUsageNotConsumed when the predicate did not hold.
	ConsumeUsage(ctx context.Context, userID string, planID id.PlanID, limit int64) (int64, error)

	// ReassignSubscriptions moves every subscriber of from onto to,
	// resetting their counters, and returns the number of rows moved.
	ReassignSubscriptions(ctx context.Context, from, to id.PlanID) (int64, error)
}

type ListOpts struct {
	Limit  int
	Offset int
}
