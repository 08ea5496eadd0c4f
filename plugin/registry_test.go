package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/plan"
)

type recorder struct {
	name string

	mu      sync.Mutex
	checked []*entitlement.Decision
	denied  []*entitlement.Decision
	plans   []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnAccessChecked(_ context.Context, d *entitlement.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked = append(r.checked, d)
	return nil
}

func (r *recorder) OnAccessDenied(_ context.Context, d *entitlement.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied = append(r.denied, d)
	return nil
}

func (r *recorder) OnPlanCreated(_ context.Context, p *plan.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, p.Name)
	return errors.New("ignored")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnUsageReset(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := quietRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.Error(t, r.Register(&recorder{name: "a"}))

	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
	assert.Len(t, r.List(), 1)
}

func TestEmitAccessChecked(t *testing.T) {
	r := quietRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))

	ctx := context.Background()
	r.EmitAccessChecked(ctx, &entitlement.Decision{Allowed: true, Reason: entitlement.ReasonGranted})
	r.EmitAccessChecked(ctx, &entitlement.Decision{Reason: entitlement.ReasonQuotaExceeded})

	assert.Len(t, rec.checked, 2)
	require.Len(t, rec.denied, 1)
	assert.Equal(t, entitlement.ReasonQuotaExceeded, rec.denied[0].Reason)
}

func TestHookErrorsDoNotPropagate(t *testing.T) {
	r := quietRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))

	r.EmitPlanCreated(context.Background(), &plan.Plan{Name: "Basic"})
	assert.Equal(t, []string{"Basic"}, rec.plans)
}

func TestHookTimeout(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(slowPlugin{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	r.EmitUsageReset(ctx, "u1")
	assert.Less(t, time.Since(start), time.Second)
}
