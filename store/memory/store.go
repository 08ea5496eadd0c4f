// Package memory provides an in-process store.Store backed by maps.
// Intended for tests, demos and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps every entity behind one RWMutex. Values are copied on the
// way in and out so callers never share memory with the store. The single
// lock also makes cross-entity checks (plan exists, plan unreferenced)
// atomic with the write they guard.
type Store struct {
	mu sync.RWMutex

	// Plan storage
	plans map[string]*plan.Plan

	// Permission storage
	permissions map[string]*permission.Permission

	// Subscription storage, keyed by user ID
	subscriptions map[string]*subscription.UserSubscription

	closed bool
}

func New() *Store {
	return &Store{
		plans:         make(map[string]*plan.Plan),
		permissions:   make(map[string]*permission.Permission),
		subscriptions: make(map[string]*subscription.UserSubscription),
	}
}

// ──────────────────────────────────────────────────
// Plan Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return turnstile.ErrDuplicateName
	}
	for _, existing := range s.plans {
		if existing.Name == p.Name {
			return turnstile.ErrDuplicateName
		}
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, turnstile.ErrPlanNotFound
}

func (s *Store) GetPlanByName(_ context.Context, name string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Name == name {
			return clonePlan(p), nil
		}
	}
	return nil, turnstile.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		result = append(result, clonePlan(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})

	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) SetPlanPermissions(_ context.Context, planID id.PlanID, old, updated types.NameSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.plans[planID.String()]
	if !exists {
		return turnstile.ErrPlanNotFound
	}
	if p.Permissions.Encode() != old.Encode() {
		return turnstile.ErrConcurrentUpdate
	}
	p.Permissions = updated.Clone()
	p.Touch()
	return nil
}

func (s *Store) DeletePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[planID.String()]; !exists {
		return turnstile.ErrPlanNotFound
	}
	for _, sub := range s.subscriptions {
		if sub.PlanID == planID {
			return turnstile.ErrPlanInUse
		}
	}
	delete(s.plans, planID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Permission Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreatePermission(_ context.Context, p *permission.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.permissions[p.ID.String()]; exists {
		return turnstile.ErrDuplicateName
	}
	for _, existing := range s.permissions {
		if existing.Name == p.Name {
			return turnstile.ErrDuplicateName
		}
	}
	cp := *p
	s.permissions[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetPermission(_ context.Context, permID id.PermissionID) (*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.permissions[permID.String()]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, turnstile.ErrPermissionNotFound
}

func (s *Store) GetPermissionByName(_ context.Context, name string) (*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.permissions {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, turnstile.ErrPermissionNotFound
}

func (s *Store) ListPermissions(_ context.Context, opts permission.ListOpts) ([]*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*permission.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})

	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) DeletePermission(_ context.Context, permID id.PermissionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.permissions[permID.String()]; !exists {
		return turnstile.ErrPermissionNotFound
	}
	delete(s.permissions, permID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Subscription Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.UserSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[sub.PlanID.String()]; !ok {
		return turnstile.ErrPlanNotFound
	}
	if _, exists := s.subscriptions[sub.UserID]; exists {
		return turnstile.ErrSubscriptionExists
	}
	cp := *sub
	s.subscriptions[sub.UserID] = &cp
	return nil
}

func (s *Store) GetSubscriptionByUser(_ context.Context, userID string) (*subscription.UserSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, turnstile.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptionsByPlan(_ context.Context, planID id.PlanID, opts subscription.ListOpts) ([]*subscription.UserSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.UserSubscription, 0)
	for _, sub := range s.subscriptions {
		if sub.PlanID == planID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})

	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) RebindSubscription(_ context.Context, userID string, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return turnstile.ErrSubscriptionNotFound
	}
	if _, ok := s.plans[planID.String()]; !ok {
		return turnstile.ErrPlanNotFound
	}
	sub.PlanID = planID
	sub.UsageCount = 0
	sub.Touch()
	return nil
}

func (s *Store) ResetUsage(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return turnstile.ErrSubscriptionNotFound
	}
	sub.UsageCount = 0
	sub.Touch()
	return nil
}

func (s *Store) ConsumeUsage(_ context.Context, userID string, planID id.PlanID, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return 0, turnstile.ErrSubscriptionNotFound
	}
	if sub.PlanID != planID || sub.UsageCount >= limit {
		return 0, turnstile.ErrUsageNotConsumed
	}
	sub.UsageCount++
	sub.Touch()
	return sub.UsageCount, nil
}

func (s *Store) ReassignSubscriptions(_ context.Context, from, to id.PlanID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved int64
	for _, sub := range s.subscriptions {
		if sub.PlanID == from {
			sub.PlanID = to
			sub.UsageCount = 0
			sub.Touch()
			moved++
		}
	}
	return moved, nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return turnstile.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func clonePlan(p *plan.Plan) *plan.Plan {
	cp := *p
	cp.Permissions = p.Permissions.Clone()
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
