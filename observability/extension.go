// Package observability provides a metrics extension for Turnstile that
// records lifecycle and access-check counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/plugin"
	"github.com/xraph/turnstile/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated          = (*MetricsExtension)(nil)
	_ plugin.OnPlanDeleted          = (*MetricsExtension)(nil)
	_ plugin.OnPermissionCreated    = (*MetricsExtension)(nil)
	_ plugin.OnPermissionDeleted    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionAssigned = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged  = (*MetricsExtension)(nil)
	_ plugin.OnUsageReset           = (*MetricsExtension)(nil)
	_ plugin.OnAccessChecked        = (*MetricsExtension)(nil)
	_ plugin.OnAccessDenied         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Turnstile plugin to track plan, subscription and access
// metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Plan metrics
	PlanCreated             Counter
	PlanDeleted             Counter
	SubscriptionsReassigned Counter

	// Permission metrics
	PermissionCreated  Counter
	PermissionDeleted  Counter
	PermissionScrubbed Counter

	// Subscription metrics
	SubscriptionAssigned Counter
	SubscriptionChanged  Counter
	UsageReset           Counter

	// Access metrics
	AccessChecks         Counter
	AccessGranted        Counter
	AccessDenied         Counter
	DeniedNoSubscription Counter
	DeniedNotPermitted   Counter
	DeniedQuotaExceeded  Counter
	QuotaRemaining       Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PlanCreated:             factory.Counter("turnstile.plan.created"),
		PlanDeleted:             factory.Counter("turnstile.plan.deleted"),
		SubscriptionsReassigned: factory.Counter("turnstile.plan.subscriptions_reassigned"),

		PermissionCreated:  factory.Counter("turnstile.permission.created"),
		PermissionDeleted:  factory.Counter("turnstile.permission.deleted"),
		PermissionScrubbed: factory.Counter("turnstile.permission.plans_scrubbed"),

		SubscriptionAssigned: factory.Counter("turnstile.subscription.assigned"),
		SubscriptionChanged:  factory.Counter("turnstile.subscription.changed"),
		UsageReset:           factory.Counter("turnstile.subscription.usage_reset"),

		AccessChecks:         factory.Counter("turnstile.access.checks"),
		AccessGranted:        factory.Counter("turnstile.access.granted"),
		AccessDenied:         factory.Counter("turnstile.access.denied"),
		DeniedNoSubscription: factory.Counter("turnstile.access.denied.no_subscription"),
		DeniedNotPermitted:   factory.Counter("turnstile.access.denied.not_permitted"),
		DeniedQuotaExceeded:  factory.Counter("turnstile.access.denied.quota_exceeded"),
		QuotaRemaining:       factory.Histogram("turnstile.access.quota_remaining"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Plan and permission hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanDeleted implements plugin.OnPlanDeleted.
func (m *MetricsExtension) OnPlanDeleted(_ context.Context, _ *plan.Plan, reassigned int64) error {
	m.PlanDeleted.Inc()
	m.SubscriptionsReassigned.Add(float64(reassigned))
	return nil
}

// OnPermissionCreated implements plugin.OnPermissionCreated.
func (m *MetricsExtension) OnPermissionCreated(_ context.Context, _ *permission.Permission) error {
	m.PermissionCreated.Inc()
	return nil
}

// OnPermissionDeleted implements plugin.OnPermissionDeleted.
func (m *MetricsExtension) OnPermissionDeleted(_ context.Context, _ *permission.Permission, scrubbed int) error {
	m.PermissionDeleted.Inc()
	m.PermissionScrubbed.Add(float64(scrubbed))
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionAssigned implements plugin.OnSubscriptionAssigned.
func (m *MetricsExtension) OnSubscriptionAssigned(_ context.Context, _ *subscription.UserSubscription) error {
	m.SubscriptionAssigned.Inc()
	return nil
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ string, _, _ id.PlanID) error {
	m.SubscriptionChanged.Inc()
	return nil
}

// OnUsageReset implements plugin.OnUsageReset.
func (m *MetricsExtension) OnUsageReset(_ context.Context, _ string) error {
	m.UsageReset.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessChecked implements plugin.OnAccessChecked.
func (m *MetricsExtension) OnAccessChecked(_ context.Context, d *entitlement.Decision) error {
	m.AccessChecks.Inc()
	if d.Allowed {
		m.AccessGranted.Inc()
		m.QuotaRemaining.Observe(float64(d.Remaining))
	}
	return nil
}

// OnAccessDenied implements plugin.OnAccessDenied.
func (m *MetricsExtension) OnAccessDenied(_ context.Context, d *entitlement.Decision) error {
	m.AccessDenied.Inc()
	switch d.Reason {
	case entitlement.ReasonNoSubscription:
		m.DeniedNoSubscription.Inc()
	case entitlement.ReasonNotPermitted:
		m.DeniedNotPermitted.Inc()
	case entitlement.ReasonQuotaExceeded:
		m.DeniedQuotaExceeded.Inc()
	}
	return nil
}
