package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onPlanCreated          []OnPlanCreated
	onPlanDeleted          []OnPlanDeleted
	onPermissionCreated    []OnPermissionCreated
	onPermissionDeleted    []OnPermissionDeleted
	onSubscriptionAssigned []OnSubscriptionAssigned
	onSubscriptionChanged  []OnSubscriptionChanged
	onUsageReset           []OnUsageReset
	onAccessChecked        []OnAccessChecked
	onAccessDenied         []OnAccessDenied
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
		hooks = append(hooks, "OnPlanCreated")
	}
	if v, ok := p.(OnPlanDeleted); ok {
		r.onPlanDeleted = append(r.onPlanDeleted, v)
		hooks = append(hooks, "OnPlanDeleted")
	}
	if v, ok := p.(OnPermissionCreated); ok {
		r.onPermissionCreated = append(r.onPermissionCreated, v)
		hooks = append(hooks, "OnPermissionCreated")
	}
	if v, ok := p.(OnPermissionDeleted); ok {
		r.onPermissionDeleted = append(r.onPermissionDeleted, v)
		hooks = append(hooks, "OnPermissionDeleted")
	}
	if v, ok := p.(OnSubscriptionAssigned); ok {
		r.onSubscriptionAssigned = append(r.onSubscriptionAssigned, v)
		hooks = append(hooks, "OnSubscriptionAssigned")
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
		hooks = append(hooks, "OnSubscriptionChanged")
	}
	if v, ok := p.(OnUsageReset); ok {
		r.onUsageReset = append(r.onUsageReset, v)
		hooks = append(hooks, "OnUsageReset")
	}
	if v, ok := p.(OnAccessChecked); ok {
		r.onAccessChecked = append(r.onAccessChecked, v)
		hooks = append(hooks, "OnAccessChecked")
	}
	if v, ok := p.(OnAccessDenied); ok {
		r.onAccessDenied = append(r.onAccessDenied, v)
		hooks = append(hooks, "OnAccessDenied")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnInit", p.Name(), func() error {
			return p.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnShutdown", p.Name(), func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitPlanCreated emits a plan created event.
func (r *Registry) EmitPlanCreated(ctx context.Context, pl *plan.Plan) {
	r.mu.RLock()
	plugins := r.onPlanCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnPlanCreated", p.Name(), func() error {
			return p.OnPlanCreated(ctx, pl)
		})
	}
}

// EmitPlanDeleted emits a plan deleted event.
func (r *Registry) EmitPlanDeleted(ctx context.Context, pl *plan.Plan, reassigned int64) {
	r.mu.RLock()
	plugins := r.onPlanDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnPlanDeleted", p.Name(), func() error {
			return p.OnPlanDeleted(ctx, pl, reassigned)
		})
	}
}

// EmitPermissionCreated emits a permission created event.
func (r *Registry) EmitPermissionCreated(ctx context.Context, perm *permission.Permission) {
	r.mu.RLock()
	plugins := r.onPermissionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnPermissionCreated", p.Name(), func() error {
			return p.OnPermissionCreated(ctx, perm)
		})
	}
}

// EmitPermissionDeleted emits a permission deleted event.
func (r *Registry) EmitPermissionDeleted(ctx context.Context, perm *permission.Permission, scrubbed int) {
	r.mu.RLock()
	plugins := r.onPermissionDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnPermissionDeleted", p.Name(), func() error {
			return p.OnPermissionDeleted(ctx, perm, scrubbed)
		})
	}
}

// EmitSubscriptionAssigned emits a subscription assigned event.
func (r *Registry) EmitSubscriptionAssigned(ctx context.Context, sub *subscription.UserSubscription) {
	r.mu.RLock()
	plugins := r.onSubscriptionAssigned
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnSubscriptionAssigned", p.Name(), func() error {
			return p.OnSubscriptionAssigned(ctx, sub)
		})
	}
}

// EmitSubscriptionChanged emits a plan change event.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, userID string, oldPlan, newPlan id.PlanID) {
	r.mu.RLock()
	plugins := r.onSubscriptionChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnSubscriptionChanged", p.Name(), func() error {
			return p.OnSubscriptionChanged(ctx, userID, oldPlan, newPlan)
		})
	}
}

// EmitUsageReset emits a usage reset event.
func (r *Registry) EmitUsageReset(ctx context.Context, userID string) {
	r.mu.RLock()
	plugins := r.onUsageReset
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnUsageReset", p.Name(), func() error {
			return p.OnUsageReset(ctx, userID)
		})
	}
}

// EmitAccessChecked emits an access decision to OnAccessChecked
// implementations and, for refusals, to OnAccessDenied implementations.
func (r *Registry) EmitAccessChecked(ctx context.Context, d *entitlement.Decision) {
	r.mu.RLock()
	checked := r.onAccessChecked
	denied := r.onAccessDenied
	r.mu.RUnlock()

	for _, p := range checked {
		r.call(ctx, "OnAccessChecked", p.Name(), func() error {
			return p.OnAccessChecked(ctx, d)
		})
	}
	if d.Allowed {
		return
	}
	for _, p := range denied {
		r.call(ctx, "OnAccessDenied", p.Name(), func() error {
			return p.OnAccessDenied(ctx, d)
		})
	}
}

// call runs one hook and logs its failure. Hooks never fail the caller.
func (r *Registry) call(ctx context.Context, hook, pluginName string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the access path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
