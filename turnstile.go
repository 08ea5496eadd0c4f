package turnstile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/plugin"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

const (
	// DefaultPlanName is the fallback plan subscribers are moved to when
	// their plan is deleted.
	DefaultPlanName = "Free Plan"

	// DefaultPlanLimit is the usage limit EnsureDefaultPlan seeds with.
	DefaultPlanLimit = 5

	defaultMaxConsumeRetries = 8
)

// Engine is the entitlement gateway: it manages plans, permissions and
// subscriptions, and answers access checks.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Configuration
	defaultPlanName   string
	defaultPlanLimit  int64
	maxConsumeRetries int
	autoMigrate       bool
	seedDefaultPlan   bool
}

// New creates a new Engine on top of s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		defaultPlanName:   DefaultPlanName,
		defaultPlanLimit:  DefaultPlanLimit,
		maxConsumeRetries: defaultMaxConsumeRetries,
		autoMigrate:       true,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithDefaultPlan sets the name and seed limit of the fallback plan.
func WithDefaultPlan(name string, limit int64) Option {
	return func(e *Engine) {
		e.defaultPlanName = name
		e.defaultPlanLimit = limit
	}
}

// WithSeedDefaultPlan makes Start create the default plan if it is missing.
func WithSeedDefaultPlan(seed bool) Option {
	return func(e *Engine) {
		e.seedDefaultPlan = seed
	}
}

// WithAutoMigrate controls whether Start runs store migrations.
func WithAutoMigrate(migrate bool) Option {
	return func(e *Engine) {
		e.autoMigrate = migrate
	}
}

// WithMaxConsumeRetries bounds how often CheckAccess re-evaluates after
// losing a race on the usage counter.
func WithMaxConsumeRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConsumeRetries = n
		}
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// DefaultPlan returns the configured fallback plan name.
func (e *Engine) DefaultPlan() string { return e.defaultPlanName }

// Start migrates the store, optionally seeds the default plan and
// initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if e.autoMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	if e.seedDefaultPlan {
		if _, err := e.EnsureDefaultPlan(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("turnstile started",
		"default_plan", e.defaultPlanName,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan validates and stores a new plan. The plan's ID and timestamps
// are assigned here.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := validateName("name", p.Name); err != nil {
		return err
	}
	if p.UsageLimit < 0 {
		return ValidationError{Field: "usage_limit", Message: "must not be negative"}
	}
	for _, n := range p.Permissions.Names() {
		if err := validateName("api_permissions", n); err != nil {
			return err
		}
	}

	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Permissions == nil {
		p.Permissions = types.NameSet{}
	}
	p.Entity = types.NewEntity()

	if err := e.store.CreatePlan(ctx, p); err != nil {
		return err
	}

	e.logger.Info("plan created", "plan_id", p.ID.String(), "name", p.Name, "usage_limit", p.UsageLimit)
	e.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return e.store.GetPlan(ctx, planID)
}

// GetPlanByName retrieves a plan by its unique name.
func (e *Engine) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	return e.store.GetPlanByName(ctx, name)
}

// ListPlans lists plans.
func (e *Engine) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx, opts)
}

// DeletePlan moves every subscriber of the plan onto the default plan with
// a zeroed counter, then deletes the plan. It returns the number of
// subscribers moved.
//
// The default plan must exist (ErrDefaultPlanMissing otherwise) and cannot
// itself be deleted. Reassignment happens before the delete, so a failure
// between the two leaves subscribers on the default plan and the old plan
// empty.
func (e *Engine) DeletePlan(ctx context.Context, planID id.PlanID) (int64, error) {
	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return 0, err
	}
	if p.Name == e.defaultPlanName {
		return 0, ErrDefaultPlanProtected
	}

	fallback, err := e.store.GetPlanByName(ctx, e.defaultPlanName)
	if IsNotFound(err) {
		e.logger.Error("default plan missing; refusing to delete plan",
			"plan_id", planID.String(),
			"default_plan", e.defaultPlanName,
		)
		return 0, fmt.Errorf("%w: create %q first", ErrDefaultPlanMissing, e.defaultPlanName)
	}
	if err != nil {
		return 0, err
	}

	moved, err := e.reassignAndDelete(ctx, planID, fallback.ID)
	if err != nil {
		return moved, err
	}

	e.logger.Info("plan deleted",
		"plan_id", planID.String(),
		"name", p.Name,
		"reassigned", moved,
		"default_plan", fallback.ID.String(),
	)
	e.plugins.EmitPlanDeleted(ctx, p, moved)
	return moved, nil
}

// reassignAndDelete moves subscribers off planID and deletes it. The store
// refuses to delete a plan that gained a subscriber after the move, in
// which case the move is repeated.
func (e *Engine) reassignAndDelete(ctx context.Context, planID, fallback id.PlanID) (int64, error) {
	var moved int64
	for attempt := 1; attempt <= e.maxConsumeRetries; attempt++ {
		n, err := e.store.ReassignSubscriptions(ctx, planID, fallback)
		if err != nil {
			return moved, fmt.Errorf("turnstile: reassign subscribers of %s: %w", planID, err)
		}
		moved += n

		err = e.store.DeletePlan(ctx, planID)
		if !errors.Is(err, ErrPlanInUse) {
			return moved, err
		}
		e.logger.Debug("plan gained subscribers during delete, moving again",
			"plan_id", planID.String(),
			"attempt", attempt,
		)
	}
	return moved, ErrConcurrentUpdate
}

// EnsureDefaultPlan returns the default plan, creating it with no
// permissions and the configured limit if it does not exist.
func (e *Engine) EnsureDefaultPlan(ctx context.Context) (*plan.Plan, error) {
	p, err := e.store.GetPlanByName(ctx, e.defaultPlanName)
	if err == nil {
		return p, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	p = &plan.Plan{
		Name:        e.defaultPlanName,
		Description: "Fallback plan for subscribers of deleted plans",
		Permissions: types.NameSet{},
		UsageLimit:  e.defaultPlanLimit,
	}
	err = e.CreatePlan(ctx, p)
	if IsConflict(err) {
		// Created concurrently by another instance.
		return e.store.GetPlanByName(ctx, e.defaultPlanName)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ──────────────────────────────────────────────────
// Permission Management
// ──────────────────────────────────────────────────

// CreatePermission validates and stores a new permission.
func (e *Engine) CreatePermission(ctx context.Context, p *permission.Permission) error {
	if err := validateName("name", p.Name); err != nil {
		return err
	}

	if p.ID.IsNil() {
		p.ID = id.NewPermissionID()
	}
	p.Entity = types.NewEntity()

	if err := e.store.CreatePermission(ctx, p); err != nil {
		return err
	}

	e.logger.Info("permission created", "permission_id", p.ID.String(), "name", p.Name)
	e.plugins.EmitPermissionCreated(ctx, p)
	return nil
}

// GetPermission retrieves a permission by ID.
func (e *Engine) GetPermission(ctx context.Context, permID id.PermissionID) (*permission.Permission, error) {
	return e.store.GetPermission(ctx, permID)
}

// ListPermissions lists permissions.
func (e *Engine) ListPermissions(ctx context.Context, opts permission.ListOpts) ([]*permission.Permission, error) {
	return e.store.ListPermissions(ctx, opts)
}

// DeletePermission deletes the permission and removes its name from every
// plan that lists it. It returns the number of plans changed. Deleting an
// unknown permission returns ErrPermissionNotFound and changes nothing.
func (e *Engine) DeletePermission(ctx context.Context, permID id.PermissionID) (int, error) {
	perm, err := e.store.GetPermission(ctx, permID)
	if err != nil {
		return 0, err
	}

	if err := e.store.DeletePermission(ctx, permID); err != nil {
		return 0, err
	}

	scrubbed, err := e.scrubPermission(ctx, perm.Name)
	if err != nil {
		return scrubbed, fmt.Errorf("turnstile: remove %q from plans: %w", perm.Name, err)
	}

	e.logger.Info("permission deleted",
		"permission_id", permID.String(),
		"name", perm.Name,
		"plans_updated", scrubbed,
	)
	e.plugins.EmitPermissionDeleted(ctx, perm, scrubbed)
	return scrubbed, nil
}

func (e *Engine) scrubPermission(ctx context.Context, name string) (int, error) {
	plans, err := e.store.ListPlans(ctx, plan.ListOpts{})
	if err != nil {
		return 0, err
	}

	var n int
	for _, p := range plans {
		changed, err := e.removeFromPlan(ctx, p, name)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// removeFromPlan drops name from one plan's set, re-reading the plan when a
// concurrent writer changed the set first.
func (e *Engine) removeFromPlan(ctx context.Context, p *plan.Plan, name string) (bool, error) {
	for range e.maxConsumeRetries {
		if !p.Permissions.Contains(name) {
			return false, nil
		}
		updated := p.Permissions.Clone()
		updated.Remove(name)

		err := e.store.SetPlanPermissions(ctx, p.ID, p.Permissions, updated)
		switch {
		case err == nil:
			return true, nil
		case IsNotFound(err):
			return false, nil
		case !errors.Is(err, ErrConcurrentUpdate):
			return false, err
		}

		if p, err = e.store.GetPlan(ctx, p.ID); err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
	}
	return false, ErrConcurrentUpdate
}

// ──────────────────────────────────────────────────
// Subscription Management
// ──────────────────────────────────────────────────

// AssignSubscription subscribes userID to planID with a zero counter.
// The plan must exist and the user must not already be subscribed; use
// UpdateUserSubscription to move an existing subscriber. The store checks
// the plan in the same write that binds it.
func (e *Engine) AssignSubscription(ctx context.Context, userID string, planID id.PlanID) (*subscription.UserSubscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ValidationError{Field: "user_id", Message: "must not be empty"}
	}

	sub := &subscription.UserSubscription{
		Entity: types.NewEntity(),
		ID:     id.NewSubscriptionID(),
		UserID: userID,
		PlanID: planID,
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	e.logger.Info("subscription assigned", "user_id", userID, "plan_id", planID.String())
	e.plugins.EmitSubscriptionAssigned(ctx, sub)
	return sub, nil
}

// GetSubscription returns the user's subscription.
func (e *Engine) GetSubscription(ctx context.Context, userID string) (*subscription.UserSubscription, error) {
	return e.store.GetSubscriptionByUser(ctx, userID)
}

// ListSubscriptionsByPlan lists the subscribers of a plan.
func (e *Engine) ListSubscriptionsByPlan(ctx context.Context, planID id.PlanID, opts subscription.ListOpts) ([]*subscription.UserSubscription, error) {
	return e.store.ListSubscriptionsByPlan(ctx, planID, opts)
}

// UpdateUserSubscription moves userID onto newPlanID and resets the counter,
// even when the plan is unchanged.
func (e *Engine) UpdateUserSubscription(ctx context.Context, userID string, newPlanID id.PlanID) error {
	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := e.store.RebindSubscription(ctx, userID, newPlanID); err != nil {
		return err
	}

	e.logger.Info("subscription changed",
		"user_id", userID,
		"old_plan_id", sub.PlanID.String(),
		"new_plan_id", newPlanID.String(),
	)
	e.plugins.EmitSubscriptionChanged(ctx, userID, sub.PlanID, newPlanID)
	return nil
}

// ResetUsage zeroes the user's counter.
func (e *Engine) ResetUsage(ctx context.Context, userID string) error {
	if err := e.store.ResetUsage(ctx, userID); err != nil {
		return err
	}

	e.logger.Info("usage reset", "user_id", userID)
	e.plugins.EmitUsageReset(ctx, userID)
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func validateName(field, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return ValidationError{Field: field, Message: "must not be empty"}
	case strings.Contains(name, types.NameDelimiter):
		return ValidationError{Field: field, Message: fmt.Sprintf("must not contain %q", types.NameDelimiter)}
	}
	return nil
}
