// Package audithook bridges Turnstile lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/plugin"
	"github.com/xraph/turnstile/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnPlanCreated          = (*Extension)(nil)
	_ plugin.OnPlanDeleted          = (*Extension)(nil)
	_ plugin.OnPermissionCreated    = (*Extension)(nil)
	_ plugin.OnPermissionDeleted    = (*Extension)(nil)
	_ plugin.OnSubscriptionAssigned = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged  = (*Extension)(nil)
	_ plugin.OnUsageReset           = (*Extension)(nil)
	_ plugin.OnAccessDenied         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Turnstile lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Plan and permission hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanCreated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryCatalog, "",
		"name", p.Name,
		"usage_limit", p.UsageLimit,
		"api_permissions", p.Permissions.Names(),
	)
}

// OnPlanDeleted implements plugin.OnPlanDeleted.
func (e *Extension) OnPlanDeleted(ctx context.Context, p *plan.Plan, reassigned int64) error {
	return e.record(ctx, ActionPlanDeleted, SeverityWarning, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryCatalog, "",
		"name", p.Name,
		"reassigned", reassigned,
	)
}

// OnPermissionCreated implements plugin.OnPermissionCreated.
func (e *Extension) OnPermissionCreated(ctx context.Context, p *permission.Permission) error {
	return e.record(ctx, ActionPermissionCreated, SeverityInfo, OutcomeSuccess,
		ResourcePermission, p.ID.String(), CategoryCatalog, "",
		"name", p.Name,
		"api_endpoint", p.APIEndpoint,
	)
}

// OnPermissionDeleted implements plugin.OnPermissionDeleted.
func (e *Extension) OnPermissionDeleted(ctx context.Context, p *permission.Permission, scrubbed int) error {
	return e.record(ctx, ActionPermissionDeleted, SeverityWarning, OutcomeSuccess,
		ResourcePermission, p.ID.String(), CategoryCatalog, "",
		"name", p.Name,
		"plans_scrubbed", scrubbed,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionAssigned implements plugin.OnSubscriptionAssigned.
func (e *Extension) OnSubscriptionAssigned(ctx context.Context, sub *subscription.UserSubscription) error {
	return e.record(ctx, ActionSubscriptionAssigned, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, "",
		"user_id", sub.UserID,
		"plan_id", sub.PlanID.String(),
	)
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, userID string, oldPlan, newPlan id.PlanID) error {
	return e.record(ctx, ActionSubscriptionChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userID, CategorySubscription, "",
		"user_id", userID,
		"old_plan_id", oldPlan.String(),
		"new_plan_id", newPlan.String(),
	)
}

// OnUsageReset implements plugin.OnUsageReset.
func (e *Extension) OnUsageReset(ctx context.Context, userID string) error {
	return e.record(ctx, ActionUsageReset, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userID, CategoryUsage, "",
		"user_id", userID,
	)
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessDenied implements plugin.OnAccessDenied. Grants are not audited.
func (e *Extension) OnAccessDenied(ctx context.Context, d *entitlement.Decision) error {
	action, severity := ActionAccessDenied, SeverityInfo
	if d.Reason == entitlement.ReasonQuotaExceeded {
		action, severity = ActionQuotaExceeded, SeverityWarning
	}

	return e.record(ctx, action, severity, OutcomeFailure,
		ResourceAPI, d.API, CategoryAccess, string(d.Reason),
		"user_id", d.UserID,
		"used", d.Used,
		"limit", d.Limit,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
