package plan

import (
	"context"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/types"
)

// Store persists plans. Names are unique; CreatePlan returns
// turnstile.ErrDuplicateName when the name is taken.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetPlanByName(ctx context.Context, name string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)

	// SetPlanPermissions replaces the plan's permission set if it still
	// equals old, and returns turnstile.ErrConcurrentUpdate otherwise.
	SetPlanPermissions(ctx context.Context, planID id.PlanID, old, updated types.NameSet) error

	// DeletePlan removes the plan only if no subscription references it,
	// checked in the same atomic write. It returns turnstile.ErrPlanInUse
	// when subscribers remain.
	DeletePlan(ctx context.Context, planID id.PlanID) error
}

// ListOpts pages through plans in creation order.
type ListOpts struct {
	Limit  int
	Offset int
}
