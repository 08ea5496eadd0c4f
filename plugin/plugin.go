// Package plugin provides an extensible plugin system for Turnstile.
// Plugins hook into lifecycle and access-check events; a plugin implements
// Plugin plus any subset of the hook interfaces below.
package plugin

import (
	"context"

	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *turnstile.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called when a new plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

// OnPlanDeleted is called after a plan is deleted and its subscribers moved
// to the default plan.
type OnPlanDeleted interface {
	Plugin
	OnPlanDeleted(ctx context.Context, p *plan.Plan, reassigned int64) error
}

// ──────────────────────────────────────────────────
// Permission lifecycle hooks
// ──────────────────────────────────────────────────

// OnPermissionCreated is called when a new permission is created.
type OnPermissionCreated interface {
	Plugin
	OnPermissionCreated(ctx context.Context, p *permission.Permission) error
}

// OnPermissionDeleted is called after a permission is deleted and scrubbed
// from the given number of plans.
type OnPermissionDeleted interface {
	Plugin
	OnPermissionDeleted(ctx context.Context, p *permission.Permission, scrubbed int) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionAssigned is called when a user is first subscribed.
type OnSubscriptionAssigned interface {
	Plugin
	OnSubscriptionAssigned(ctx context.Context, sub *subscription.UserSubscription) error
}

// OnSubscriptionChanged is called when a user moves between plans.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, userID string, oldPlan, newPlan id.PlanID) error
}

// OnUsageReset is called when a user's counter is zeroed by an operator.
type OnUsageReset interface {
	Plugin
	OnUsageReset(ctx context.Context, userID string) error
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessChecked is called for every access decision, granted or not.
type OnAccessChecked interface {
	Plugin
	OnAccessChecked(ctx context.Context, d *entitlement.Decision) error
}

// OnAccessDenied is called when an access check is refused.
type OnAccessDenied interface {
	Plugin
	OnAccessDenied(ctx context.Context, d *entitlement.Decision) error
}
