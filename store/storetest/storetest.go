// Package storetest holds a behavioural test suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// Run executes the suite. newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("Plans", func(t *testing.T) { testPlans(t, newStore(t)) })
	t.Run("Permissions", func(t *testing.T) { testPermissions(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("ConsumeUsage", func(t *testing.T) { testConsumeUsage(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("Reassign", func(t *testing.T) { testReassign(t, newStore(t)) })
	t.Run("PermissionNamesVerbatim", func(t *testing.T) { testPermissionNamesVerbatim(t, newStore(t)) })
	t.Run("PlanBindings", func(t *testing.T) { testPlanBindings(t, newStore(t)) })
}

// NewPlan returns an unsaved plan with fresh identity.
func NewPlan(name string, limit int64, apis ...string) *plan.Plan {
	return &plan.Plan{
		Entity:      types.NewEntity(),
		ID:          id.NewPlanID(),
		Name:        name,
		Permissions: types.NewNameSet(apis...),
		UsageLimit:  limit,
	}
}

// NewSubscription returns an unsaved subscription with a zero counter.
func NewSubscription(userID string, planID id.PlanID) *subscription.UserSubscription {
	return &subscription.UserSubscription{
		Entity: types.NewEntity(),
		ID:     id.NewSubscriptionID(),
		UserID: userID,
		PlanID: planID,
	}
}

func testPlans(t *testing.T, s store.Store) {
	ctx := context.Background()

	basic := NewPlan("Basic", 2, "weather", "news")
	require.NoError(t, s.CreatePlan(ctx, basic))
	require.ErrorIs(t, s.CreatePlan(ctx, NewPlan("Basic", 9)), turnstile.ErrDuplicateName)

	got, err := s.GetPlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, "Basic", got.Name)
	assert.Equal(t, int64(2), got.UsageLimit)
	assert.Equal(t, []string{"news", "weather"}, got.Permissions.Names())

	byName, err := s.GetPlanByName(ctx, "Basic")
	require.NoError(t, err)
	assert.Equal(t, basic.ID, byName.ID)

	_, err = s.GetPlan(ctx, id.NewPlanID())
	require.ErrorIs(t, err, turnstile.ErrPlanNotFound)
	_, err = s.GetPlanByName(ctx, "basic")
	require.ErrorIs(t, err, turnstile.ErrPlanNotFound)

	empty := NewPlan("Empty", 0)
	require.NoError(t, s.CreatePlan(ctx, empty))
	got, err = s.GetPlan(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Permissions.Len())

	plans, err := s.ListPlans(ctx, plan.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, plans, 2)
	plans, err = s.ListPlans(ctx, plan.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	updated := types.NewNameSet("news")
	require.NoError(t, s.SetPlanPermissions(ctx, basic.ID, basic.Permissions, updated))
	require.ErrorIs(t, s.SetPlanPermissions(ctx, basic.ID, basic.Permissions, types.NameSet{}), turnstile.ErrConcurrentUpdate)
	got, err = s.GetPlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, got.Permissions.Names())
	require.ErrorIs(t, s.SetPlanPermissions(ctx, id.NewPlanID(), updated, updated), turnstile.ErrPlanNotFound)

	require.NoError(t, s.DeletePlan(ctx, basic.ID))
	require.ErrorIs(t, s.DeletePlan(ctx, basic.ID), turnstile.ErrPlanNotFound)
	_, err = s.GetPlan(ctx, basic.ID)
	require.ErrorIs(t, err, turnstile.ErrPlanNotFound)
}

func testPermissions(t *testing.T, s store.Store) {
	ctx := context.Background()

	perm := &permission.Permission{
		Entity:      types.NewEntity(),
		ID:          id.NewPermissionID(),
		Name:        "weather",
		APIEndpoint: "/api/weather",
		Description: "current weather",
	}
	require.NoError(t, s.CreatePermission(ctx, perm))

	dup := *perm
	dup.ID = id.NewPermissionID()
	require.ErrorIs(t, s.CreatePermission(ctx, &dup), turnstile.ErrDuplicateName)

	got, err := s.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, "/api/weather", got.APIEndpoint)
	assert.Equal(t, "current weather", got.Description)

	byName, err := s.GetPermissionByName(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, perm.ID, byName.ID)

	perms, err := s.ListPermissions(ctx, permission.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, perms, 1)

	require.NoError(t, s.DeletePermission(ctx, perm.ID))
	require.ErrorIs(t, s.DeletePermission(ctx, perm.ID), turnstile.ErrPermissionNotFound)
	_, err = s.GetPermission(ctx, perm.ID)
	require.ErrorIs(t, err, turnstile.ErrPermissionNotFound)
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()

	basic := NewPlan("Basic", 2, "weather")
	pro := NewPlan("Pro", 10, "weather")
	require.NoError(t, s.CreatePlan(ctx, basic))
	require.NoError(t, s.CreatePlan(ctx, pro))

	require.NoError(t, s.CreateSubscription(ctx, NewSubscription("u1", basic.ID)))
	require.ErrorIs(t, s.CreateSubscription(ctx, NewSubscription("u1", pro.ID)), turnstile.ErrSubscriptionExists)

	sub, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, basic.ID, sub.PlanID)
	assert.Equal(t, int64(0), sub.UsageCount)

	_, err = s.GetSubscriptionByUser(ctx, "ghost")
	require.ErrorIs(t, err, turnstile.ErrSubscriptionNotFound)

	_, err = s.ConsumeUsage(ctx, "u1", basic.ID, basic.UsageLimit)
	require.NoError(t, err)

	require.NoError(t, s.RebindSubscription(ctx, "u1", pro.ID))
	sub, err = s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, sub.PlanID)
	assert.Equal(t, int64(0), sub.UsageCount)
	require.ErrorIs(t, s.RebindSubscription(ctx, "ghost", pro.ID), turnstile.ErrSubscriptionNotFound)

	_, err = s.ConsumeUsage(ctx, "u1", pro.ID, pro.UsageLimit)
	require.NoError(t, err)
	require.NoError(t, s.ResetUsage(ctx, "u1"))
	sub, err = s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sub.UsageCount)
	assert.Equal(t, pro.ID, sub.PlanID)
	require.ErrorIs(t, s.ResetUsage(ctx, "ghost"), turnstile.ErrSubscriptionNotFound)

	require.NoError(t, s.CreateSubscription(ctx, NewSubscription("u2", pro.ID)))
	subs, err := s.ListSubscriptionsByPlan(ctx, pro.ID, subscription.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	subs, err = s.ListSubscriptionsByPlan(ctx, basic.ID, subscription.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func testConsumeUsage(t *testing.T, s store.Store) {
	ctx := context.Background()

	basic := NewPlan("Basic", 2, "weather")
	other := NewPlan("Other", 2, "weather")
	require.NoError(t, s.CreatePlan(ctx, basic))
	require.NoError(t, s.CreatePlan(ctx, other))
	require.NoError(t, s.CreateSubscription(ctx, NewSubscription("u1", basic.ID)))

	used, err := s.ConsumeUsage(ctx, "u1", basic.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)

	used, err = s.ConsumeUsage(ctx, "u1", basic.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)

	_, err = s.ConsumeUsage(ctx, "u1", basic.ID, 2)
	require.ErrorIs(t, err, turnstile.ErrUsageNotConsumed)

	// Stale plan binding never increments.
	require.NoError(t, s.ResetUsage(ctx, "u1"))
	_, err = s.ConsumeUsage(ctx, "u1", other.ID, 2)
	require.ErrorIs(t, err, turnstile.ErrUsageNotConsumed)

	sub, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sub.UsageCount)
}

func testConcurrentConsume(t *testing.T, s store.Store) {
	ctx := context.Background()

	const limit = 5
	p := NewPlan("Racy", limit, "weather")
	require.NoError(t, s.CreatePlan(ctx, p))
	require.NoError(t, s.CreateSubscription(ctx, NewSubscription("u1", p.ID)))

	var (
		wg       sync.WaitGroup
		consumed atomic.Int64
	)
	for range 4 * limit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeUsage(ctx, "u1", p.ID, limit); err == nil {
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), consumed.Load())
	sub, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), sub.UsageCount)
}

func testReassign(t *testing.T, s store.Store) {
	ctx := context.Background()

	free := NewPlan("Free Plan", 5)
	basic := NewPlan("Basic", 2, "weather")
	require.NoError(t, s.CreatePlan(ctx, free))
	require.NoError(t, s.CreatePlan(ctx, basic))

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, s.CreateSubscription(ctx, NewSubscription(u, basic.ID)))
		_, err := s.ConsumeUsage(ctx, u, basic.ID, basic.UsageLimit)
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateSubscription(ctx, NewSubscription("stay", free.ID)))
	_, err := s.ConsumeUsage(ctx, "stay", free.ID, free.UsageLimit)
	require.NoError(t, err)

	moved, err := s.ReassignSubscriptions(ctx, basic.ID, free.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), moved)

	for _, u := range []string{"u1", "u2", "u3"} {
		sub, err := s.GetSubscriptionByUser(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, free.ID, sub.PlanID)
		assert.Equal(t, int64(0), sub.UsageCount)
	}
	stay, err := s.GetSubscriptionByUser(ctx, "stay")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stay.UsageCount, "subscribers of other plans keep their counters")

	moved, err = s.ReassignSubscriptions(ctx, basic.ID, free.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved)
}

func testPermissionNamesVerbatim(t *testing.T, s store.Store) {
	ctx := context.Background()

	names := []string{" weather", "news ", "News", "news", "Stocks\t", "météo"}
	p := NewPlan("Odd", 3, names...)
	require.NoError(t, s.CreatePlan(ctx, p))

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Permissions.Names(), got.Permissions.Names())
	assert.True(t, got.Permits(" weather"))
	assert.False(t, got.Permits("weather"))

	// The stored set is the one CreatePlan wrote, so a swap against it
	// succeeds on the first try.
	updated := got.Permissions.Clone()
	updated.Remove("news")
	require.NoError(t, s.SetPlanPermissions(ctx, p.ID, p.Permissions, updated))

	got, err = s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Names(), got.Permissions.Names())

	// A swap against a set read back from the store succeeds too.
	again := got.Permissions.Clone()
	again.Remove(" weather")
	require.NoError(t, s.SetPlanPermissions(ctx, p.ID, got.Permissions, again))

	got, err = s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"News", "Stocks\t", "météo", "news "}, got.Permissions.Names())
}

func testPlanBindings(t *testing.T, s store.Store) {
	ctx := context.Background()

	free := NewPlan("Free Plan", 5)
	basic := NewPlan("Basic", 2, "weather")
	require.NoError(t, s.CreatePlan(ctx, free))
	require.NoError(t, s.CreatePlan(ctx, basic))

	gone := id.NewPlanID()
	require.ErrorIs(t, s.CreateSubscription(ctx, NewSubscription("u1", gone)), turnstile.ErrPlanNotFound)
	_, err := s.GetSubscriptionByUser(ctx, "u1")
	require.ErrorIs(t, err, turnstile.ErrSubscriptionNotFound)

	require.NoError(t, s.CreateSubscription(ctx, NewSubscription("u1", basic.ID)))
	_, err = s.ConsumeUsage(ctx, "u1", basic.ID, basic.UsageLimit)
	require.NoError(t, err)

	require.ErrorIs(t, s.RebindSubscription(ctx, "u1", gone), turnstile.ErrPlanNotFound)
	sub, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, basic.ID, sub.PlanID)
	assert.Equal(t, int64(1), sub.UsageCount)

	require.ErrorIs(t, s.RebindSubscription(ctx, "ghost", gone), turnstile.ErrSubscriptionNotFound)

	require.ErrorIs(t, s.DeletePlan(ctx, basic.ID), turnstile.ErrPlanInUse)
	_, err = s.GetPlan(ctx, basic.ID)
	require.NoError(t, err)

	moved, err := s.ReassignSubscriptions(ctx, basic.ID, free.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	require.NoError(t, s.DeletePlan(ctx, basic.ID))

	require.ErrorIs(t, s.CreateSubscription(ctx, NewSubscription("u2", basic.ID)), turnstile.ErrPlanNotFound)
	require.ErrorIs(t, s.RebindSubscription(ctx, "u1", basic.ID), turnstile.ErrPlanNotFound)
}
