package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile"
	audithook "github.com/xraph/turnstile/audit_hook"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/types"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, evt *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func (s *sink) last(action string) *audithook.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Action == action {
			return s.events[i]
		}
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, ext *audithook.Extension) *turnstile.Engine {
	t.Helper()

	e := turnstile.New(memory.New(),
		turnstile.WithLogger(quietLogger()),
		turnstile.WithPlugin(ext),
	)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestExtensionRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	e := newEngine(t, audithook.New(s, audithook.WithLogger(quietLogger())))

	_, err := e.EnsureDefaultPlan(ctx)
	require.NoError(t, err)

	perm := &permission.Permission{Name: "weather", APIEndpoint: "/weather"}
	require.NoError(t, e.CreatePermission(ctx, perm))

	basic := &plan.Plan{Name: "Basic", Permissions: types.NewNameSet("weather"), UsageLimit: 1}
	require.NoError(t, e.CreatePlan(ctx, basic))

	_, err = e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)
	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.ErrorIs(t, err, turnstile.ErrQuotaExceeded)
	_, err = e.CheckAccess(ctx, "stocks", "u1")
	require.ErrorIs(t, err, turnstile.ErrAPINotPermitted)

	require.NoError(t, e.ResetUsage(ctx, "u1"))
	_, err = e.DeletePermission(ctx, perm.ID)
	require.NoError(t, err)
	_, err = e.DeletePlan(ctx, basic.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		audithook.ActionPlanCreated,
		audithook.ActionPermissionCreated,
		audithook.ActionPlanCreated,
		audithook.ActionSubscriptionAssigned,
		audithook.ActionQuotaExceeded,
		audithook.ActionAccessDenied,
		audithook.ActionUsageReset,
		audithook.ActionPermissionDeleted,
		audithook.ActionPlanDeleted,
	}, s.actions())

	quota := s.last(audithook.ActionQuotaExceeded)
	require.NotNil(t, quota)
	assert.Equal(t, audithook.SeverityWarning, quota.Severity)
	assert.Equal(t, audithook.OutcomeFailure, quota.Outcome)
	assert.Equal(t, "weather", quota.ResourceID)
	assert.Equal(t, "quota_exceeded", quota.Reason)
	assert.Equal(t, "u1", quota.Metadata["user_id"])
	assert.Equal(t, int64(1), quota.Metadata["limit"])

	deleted := s.last(audithook.ActionPlanDeleted)
	require.NotNil(t, deleted)
	assert.Equal(t, basic.ID.String(), deleted.ResourceID)
	assert.Equal(t, int64(1), deleted.Metadata["reassigned"])

	scrubbed := s.last(audithook.ActionPermissionDeleted)
	require.NotNil(t, scrubbed)
	assert.Equal(t, 1, scrubbed.Metadata["plans_scrubbed"])
}

func TestExtensionEnabledActions(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	e := newEngine(t, audithook.New(s,
		audithook.WithLogger(quietLogger()),
		audithook.WithEnabledActions(audithook.ActionSubscriptionAssigned),
	))

	basic := &plan.Plan{Name: "Basic", UsageLimit: 1}
	require.NoError(t, e.CreatePlan(ctx, basic))
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionSubscriptionAssigned}, s.actions())
}

func TestExtensionDisabledActions(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	e := newEngine(t, audithook.New(s,
		audithook.WithLogger(quietLogger()),
		audithook.WithDisabledActions(audithook.ActionPlanCreated),
	))

	basic := &plan.Plan{Name: "Basic", UsageLimit: 1}
	require.NoError(t, e.CreatePlan(ctx, basic))
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{audithook.ActionSubscriptionAssigned}, s.actions())
}

func TestExtensionSwallowsRecorderErrors(t *testing.T) {
	ext := audithook.New(
		audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
			return errors.New("backend down")
		}),
		audithook.WithLogger(quietLogger()),
	)

	err := ext.OnUsageReset(context.Background(), "u1")
	assert.NoError(t, err)
}
