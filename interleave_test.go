package turnstile_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/subscription"
)

// steppedStore runs a one-shot callback in front of selected store calls,
// letting a test place another operation between the engine's steps.
type steppedStore struct {
	store.Store

	beforeCreate  func()
	beforeRebind  func()
	afterReassign func()
	missingPlanID id.PlanID
	planLookups   int
}

func once(f *func()) {
	if *f != nil {
		fn := *f
		*f = nil
		fn()
	}
}

func (s *steppedStore) CreateSubscription(ctx context.Context, sub *subscription.UserSubscription) error {
	once(&s.beforeCreate)
	return s.Store.CreateSubscription(ctx, sub)
}

func (s *steppedStore) RebindSubscription(ctx context.Context, userID string, planID id.PlanID) error {
	once(&s.beforeRebind)
	return s.Store.RebindSubscription(ctx, userID, planID)
}

func (s *steppedStore) ReassignSubscriptions(ctx context.Context, from, to id.PlanID) (int64, error) {
	n, err := s.Store.ReassignSubscriptions(ctx, from, to)
	once(&s.afterReassign)
	return n, err
}

func (s *steppedStore) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.planLookups++
	if planID == s.missingPlanID {
		return nil, turnstile.ErrPlanNotFound
	}
	return s.Store.GetPlan(ctx, planID)
}

func newSteppedEngine(t *testing.T) (*turnstile.Engine, *steppedStore) {
	t.Helper()

	s := &steppedStore{Store: memory.New()}
	e := turnstile.New(s,
		turnstile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		turnstile.WithSeedDefaultPlan(true),
	)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e, s
}

func TestAssignSubscriptionLosesToDeletePlan(t *testing.T) {
	ctx := context.Background()
	e, s := newSteppedEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	s.beforeCreate = func() {
		moved, err := e.DeletePlan(ctx, basic.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), moved)
	}

	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.ErrorIs(t, err, turnstile.ErrPlanNotFound)

	_, err = e.GetSubscription(ctx, "u1")
	assert.ErrorIs(t, err, turnstile.ErrSubscriptionNotFound)
}

func TestUpdateUserSubscriptionLosesToDeletePlan(t *testing.T) {
	ctx := context.Background()
	e, s := newSteppedEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	pro := createPlan(t, e, "Pro", 10, "weather")
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	s.beforeRebind = func() {
		_, err := e.DeletePlan(ctx, pro.ID)
		require.NoError(t, err)
	}

	err = e.UpdateUserSubscription(ctx, "u1", pro.ID)
	require.ErrorIs(t, err, turnstile.ErrPlanNotFound)

	sub, err := e.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, basic.ID, sub.PlanID)

	_, err = e.CheckAccess(ctx, "weather", "u1")
	assert.NoError(t, err)
}

func TestDeletePlanMovesLateSubscriber(t *testing.T) {
	ctx := context.Background()
	e, s := newSteppedEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	s.afterReassign = func() {
		_, err := e.AssignSubscription(ctx, "late", basic.ID)
		require.NoError(t, err)
	}

	moved, err := e.DeletePlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	free, err := e.GetPlanByName(ctx, turnstile.DefaultPlanName)
	require.NoError(t, err)
	sub, err := e.GetSubscription(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, free.ID, sub.PlanID)

	_, err = e.GetPlan(ctx, basic.ID)
	assert.ErrorIs(t, err, turnstile.ErrPlanNotFound)
}

func TestCheckAccessStopsOnDanglingPlan(t *testing.T) {
	ctx := context.Background()
	e, s := newSteppedEngine(t)

	basic := createPlan(t, e, "Basic", 2, "weather")
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	s.missingPlanID = basic.ID
	s.planLookups = 0

	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.ErrorIs(t, err, turnstile.ErrPlanNotFound)
	assert.NotErrorIs(t, err, turnstile.ErrConcurrentUpdate)
	assert.Equal(t, 1, s.planLookups)
}
