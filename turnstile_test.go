package turnstile_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

func newEngine(t *testing.T, opts ...turnstile.Option) *turnstile.Engine {
	t.Helper()

	opts = append([]turnstile.Option{
		turnstile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	e := turnstile.New(memory.New(), opts...)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func createPlan(t *testing.T, e *turnstile.Engine, name string, limit int64, apis ...string) *plan.Plan {
	t.Helper()

	p := &plan.Plan{Name: name, Permissions: types.NewNameSet(apis...), UsageLimit: limit}
	require.NoError(t, e.CreatePlan(context.Background(), p))
	return p
}

func TestCheckAccessScenario(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	d, err := e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Used)

	d, err = e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Used)
	assert.Equal(t, int64(0), d.Remaining)

	d, err = e.CheckAccess(ctx, "weather", "u1")
	require.ErrorIs(t, err, turnstile.ErrQuotaExceeded)
	assert.True(t, turnstile.IsForbidden(err))
	assert.Equal(t, entitlement.ReasonQuotaExceeded, d.Reason)

	d, err = e.CheckAccess(ctx, "news", "u1")
	require.ErrorIs(t, err, turnstile.ErrAPINotPermitted)
	assert.Equal(t, entitlement.ReasonNotPermitted, d.Reason)

	sub, err := e.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sub.UsageCount, "denials must not move the counter")
}

func TestCheckAccessWithoutSubscription(t *testing.T) {
	e := newEngine(t)

	d, err := e.CheckAccess(context.Background(), "weather", "ghost")
	require.ErrorIs(t, err, turnstile.ErrUnauthorized)
	assert.False(t, turnstile.IsForbidden(err))
	assert.Equal(t, entitlement.ReasonNoSubscription, d.Reason)
}

func TestCheckAccessConcurrentAtLimit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	const limit = 10
	p := createPlan(t, e, "Metered", limit, "weather")
	_, err := e.AssignSubscription(ctx, "racer", p.ID)
	require.NoError(t, err)

	for range limit - 1 {
		_, err := e.CheckAccess(ctx, "weather", "racer")
		require.NoError(t, err)
	}

	const workers = 64
	var (
		wg      sync.WaitGroup
		granted atomic.Int64
		denied  atomic.Int64
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.CheckAccess(ctx, "weather", "racer")
			switch {
			case err == nil:
				granted.Add(1)
			case turnstile.IsForbidden(err):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), granted.Load())
	assert.Equal(t, int64(workers-1), denied.Load())

	sub, err := e.GetSubscription(ctx, "racer")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), sub.UsageCount)
}

func TestDeletePlanReassignsToDefault(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	free := createPlan(t, e, turnstile.DefaultPlanName, 5)
	basic := createPlan(t, e, "Basic", 2, "weather")

	for _, u := range []string{"u1", "u2"} {
		_, err := e.AssignSubscription(ctx, u, basic.ID)
		require.NoError(t, err)
		_, err = e.CheckAccess(ctx, "weather", u)
		require.NoError(t, err)
	}

	moved, err := e.DeletePlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	for _, u := range []string{"u1", "u2"} {
		sub, err := e.GetSubscription(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, free.ID, sub.PlanID)
		assert.Equal(t, int64(0), sub.UsageCount)
	}

	_, err = e.GetPlan(ctx, basic.ID)
	assert.ErrorIs(t, err, turnstile.ErrPlanNotFound)
}

func TestDeletePlanWithoutDefault(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	_, err = e.DeletePlan(ctx, basic.ID)
	require.ErrorIs(t, err, turnstile.ErrDefaultPlanMissing)
	assert.True(t, turnstile.IsConfigurationError(err))

	// Nothing changed.
	_, err = e.GetPlan(ctx, basic.ID)
	require.NoError(t, err)
	sub, err := e.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, basic.ID, sub.PlanID)
}

func TestDeletePlanErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, turnstile.WithSeedDefaultPlan(true))

	_, err := e.DeletePlan(ctx, id.NewPlanID())
	assert.ErrorIs(t, err, turnstile.ErrPlanNotFound)

	free, err := e.GetPlanByName(ctx, turnstile.DefaultPlanName)
	require.NoError(t, err)
	_, err = e.DeletePlan(ctx, free.ID)
	assert.ErrorIs(t, err, turnstile.ErrDefaultPlanProtected)
}

func TestDeletePermissionScrubsPlans(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	perm := &permission.Permission{Name: "weather", APIEndpoint: "/api/weather"}
	require.NoError(t, e.CreatePermission(ctx, perm))

	a := createPlan(t, e, "A", 5, "weather", "news")
	b := createPlan(t, e, "B", 5, "weather")
	c := createPlan(t, e, "C", 5, "news")

	scrubbed, err := e.DeletePermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, scrubbed)

	for _, pid := range []id.PlanID{a.ID, b.ID, c.ID} {
		p, err := e.GetPlan(ctx, pid)
		require.NoError(t, err)
		assert.False(t, p.Permits("weather"))
	}
	got, err := e.GetPlan(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, got.Permissions.Names())

	// Second delete is a NotFound with no side effects.
	_, err = e.DeletePermission(ctx, perm.ID)
	require.ErrorIs(t, err, turnstile.ErrPermissionNotFound)
	got, err = e.GetPlan(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, got.Permissions.Names())
}

func TestDuplicateNamesRejected(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	createPlan(t, e, "Basic", 1)
	err := e.CreatePlan(ctx, &plan.Plan{Name: "Basic", UsageLimit: 3})
	assert.ErrorIs(t, err, turnstile.ErrDuplicateName)
	assert.True(t, turnstile.IsConflict(err))

	require.NoError(t, e.CreatePermission(ctx, &permission.Permission{Name: "weather"}))
	err = e.CreatePermission(ctx, &permission.Permission{Name: "weather"})
	assert.ErrorIs(t, err, turnstile.ErrDuplicateName)

	plans, err := e.ListPlans(ctx, plan.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	tests := []struct {
		name string
		plan *plan.Plan
	}{
		{"empty name", &plan.Plan{Name: "  "}},
		{"delimiter in name", &plan.Plan{Name: "a,b"}},
		{"negative limit", &plan.Plan{Name: "neg", UsageLimit: -1}},
		{"delimiter in permission", &plan.Plan{Name: "bad", Permissions: types.NameSet{"a,b": {}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.CreatePlan(ctx, tt.plan)
			require.Error(t, err)
			assert.True(t, turnstile.IsInvalid(err))
		})
	}

	err := e.CreatePermission(ctx, &permission.Permission{Name: ""})
	assert.ErrorIs(t, err, turnstile.ErrInvalidInput)
}

func TestAssignSubscription(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.AssignSubscription(ctx, "u1", id.NewPlanID())
	assert.ErrorIs(t, err, turnstile.ErrPlanNotFound)

	basic := createPlan(t, e, "Basic", 2, "weather")
	sub, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sub.UsageCount)
	assert.Equal(t, id.PrefixSubscription, sub.ID.Prefix())

	_, err = e.AssignSubscription(ctx, "u1", basic.ID)
	assert.ErrorIs(t, err, turnstile.ErrSubscriptionExists)

	_, err = e.AssignSubscription(ctx, "", basic.ID)
	assert.ErrorIs(t, err, turnstile.ErrInvalidInput)

	subs, err := e.ListSubscriptionsByPlan(ctx, basic.ID, subscriptionPage())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUpdateUserSubscriptionResetsCounter(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	pro := createPlan(t, e, "Pro", 100, "weather", "news")

	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)
	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)

	require.NoError(t, e.UpdateUserSubscription(ctx, "u1", pro.ID))
	sub, err := e.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, sub.PlanID)
	assert.Equal(t, int64(0), sub.UsageCount)

	_, err = e.CheckAccess(ctx, "news", "u1")
	require.NoError(t, err)

	// Same plan still resets.
	require.NoError(t, e.UpdateUserSubscription(ctx, "u1", pro.ID))
	sub, err = e.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sub.UsageCount)

	assert.ErrorIs(t, e.UpdateUserSubscription(ctx, "ghost", pro.ID), turnstile.ErrSubscriptionNotFound)
	assert.ErrorIs(t, e.UpdateUserSubscription(ctx, "u1", id.NewPlanID()), turnstile.ErrPlanNotFound)
}

func TestResetUsage(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	basic := createPlan(t, e, "Basic", 1, "weather")
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)
	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.ErrorIs(t, err, turnstile.ErrQuotaExceeded)

	require.NoError(t, e.ResetUsage(ctx, "u1"))
	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, e.ResetUsage(ctx, "ghost"), turnstile.ErrSubscriptionNotFound)
}

func TestEnsureDefaultPlan(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, turnstile.WithDefaultPlan("Starter", 3))

	p, err := e.EnsureDefaultPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Starter", p.Name)
	assert.Equal(t, int64(3), p.UsageLimit)
	assert.Equal(t, 0, p.Permissions.Len())

	again, err := e.EnsureDefaultPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

type accessCounter struct {
	mu      sync.Mutex
	granted int
	denied  int
}

func (a *accessCounter) Name() string { return "counter" }

func (a *accessCounter) OnAccessChecked(_ context.Context, d *entitlement.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d.Allowed {
		a.granted++
	}
	return nil
}

func (a *accessCounter) OnAccessDenied(_ context.Context, _ *entitlement.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denied++
	return nil
}

func TestAccessHooks(t *testing.T) {
	ctx := context.Background()
	counter := &accessCounter{}
	e := newEngine(t, turnstile.WithPlugin(counter))

	basic := createPlan(t, e, "Basic", 1, "weather")
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	_, _ = e.CheckAccess(ctx, "weather", "u1")
	_, _ = e.CheckAccess(ctx, "weather", "u1")
	_, _ = e.CheckAccess(ctx, "weather", "ghost")

	assert.Equal(t, 1, counter.granted)
	assert.Equal(t, 2, counter.denied)
}

func subscriptionPage() subscription.ListOpts {
	return subscription.ListOpts{Limit: 10}
}
