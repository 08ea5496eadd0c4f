package turnstile

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
)

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// CheckAccess decides whether userID may call api now and, on a grant,
// advances the user's counter by exactly one.
//
// A denial returns the Decision together with ErrUnauthorized (no
// subscription), ErrAPINotPermitted or ErrQuotaExceeded. The counter only
// moves through a conditional increment that re-checks the plan binding and
// the limit in the store, so concurrent checks at limit-1 grant once.
func (e *Engine) CheckAccess(ctx context.Context, api, userID string) (*entitlement.Decision, error) {
	for attempt := 1; ; attempt++ {
		d, err := e.tryAccess(ctx, api, userID)
		if !errors.Is(err, ErrUsageNotConsumed) {
			return d, err
		}
		if attempt >= e.maxConsumeRetries {
			e.logger.Warn("access check gave up after concurrent updates",
				"api", api,
				"user_id", userID,
				"attempts", attempt,
			)
			return nil, ErrConcurrentUpdate
		}
		e.logger.Debug("usage counter moved, re-evaluating",
			"api", api,
			"user_id", userID,
			"attempt", attempt,
		)
	}
}

// tryAccess runs one read-evaluate-increment round. It returns
// ErrUsageNotConsumed when the state changed under it.
func (e *Engine) tryAccess(ctx context.Context, api, userID string) (*entitlement.Decision, error) {
	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	if IsNotFound(err) {
		d := entitlement.Denied(api, userID)
		e.plugins.EmitAccessChecked(ctx, d)
		return d, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	p, err := e.store.GetPlan(ctx, sub.PlanID)
	if IsNotFound(err) {
		return nil, e.missingPlan(ctx, userID, sub.PlanID)
	}
	if err != nil {
		return nil, err
	}

	d := entitlement.Evaluate(api, userID, p, sub.UsageCount)
	if !d.Allowed {
		e.logger.Debug("access denied",
			"api", api,
			"user_id", userID,
			"reason", string(d.Reason),
			"used", d.Used,
			"limit", d.Limit,
		)
		e.plugins.EmitAccessChecked(ctx, d)
		return d, denialError(d.Reason)
	}

	used, err := e.store.ConsumeUsage(ctx, userID, p.ID, p.UsageLimit)
	switch {
	case errors.Is(err, ErrUsageNotConsumed), IsNotFound(err):
		return nil, ErrUsageNotConsumed
	case err != nil:
		return nil, err
	}

	d.Granted(used)
	e.logger.Debug("access granted",
		"api", api,
		"user_id", userID,
		"used", d.Used,
		"limit", d.Limit,
	)
	e.plugins.EmitAccessChecked(ctx, d)
	return d, nil
}

// missingPlan decides what a vanished plan means. If the subscription has
// since moved, the plan was deleted under the check and the round is
// retried. If it still points at the plan, retrying cannot help.
func (e *Engine) missingPlan(ctx context.Context, userID string, planID id.PlanID) error {
	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	switch {
	case IsNotFound(err):
		return ErrUsageNotConsumed
	case err != nil:
		return err
	case sub.PlanID != planID:
		return ErrUsageNotConsumed
	}

	e.logger.Error("subscription bound to missing plan",
		"user_id", userID,
		"plan_id", planID.String(),
	)
	return fmt.Errorf("%w: subscription of %q references %s", ErrPlanNotFound, userID, planID)
}

func denialError(r entitlement.Reason) error {
	switch r {
	case entitlement.ReasonNoSubscription:
		return ErrUnauthorized
	case entitlement.ReasonNotPermitted:
		return ErrAPINotPermitted
	case entitlement.ReasonQuotaExceeded:
		return ErrQuotaExceeded
	default:
		return fmt.Errorf("%w: %s", ErrForbidden, r)
	}
}
