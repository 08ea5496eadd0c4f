package audithook

// Action constants for audit events.
const (
	// Plan actions
	ActionPlanCreated = "plan.created"
	ActionPlanDeleted = "plan.deleted"

	// Permission actions
	ActionPermissionCreated = "permission.created"
	ActionPermissionDeleted = "permission.deleted"

	// Subscription actions
	ActionSubscriptionAssigned = "subscription.assigned"
	ActionSubscriptionChanged  = "subscription.changed"
	ActionUsageReset           = "usage.reset"

	// Access actions
	ActionAccessDenied  = "access.denied"
	ActionQuotaExceeded = "quota.exceeded"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourcePermission   = "permission"
	ResourceSubscription = "subscription"
	ResourceAPI          = "api"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryAccess       = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
