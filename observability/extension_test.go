package observability_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/observability"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/types"
)

type fakeCounter struct {
	mu    sync.Mutex
	value float64
}

func (c *fakeCounter) Inc()          { c.Add(1) }
func (c *fakeCounter) Add(v float64) { c.mu.Lock(); c.value += v; c.mu.Unlock() }

func (c *fakeCounter) get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type fakeHistogram struct {
	mu  sync.Mutex
	obs []float64
}

func (h *fakeHistogram) Observe(v float64) { h.mu.Lock(); h.obs = append(h.obs, v); h.mu.Unlock() }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   map[string]*fakeCounter{},
		histograms: map[string]*fakeHistogram{},
	}
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func newEngine(t *testing.T, m *observability.MetricsExtension) *turnstile.Engine {
	t.Helper()

	e := turnstile.New(memory.New(),
		turnstile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		turnstile.WithPlugin(m),
		turnstile.WithSeedDefaultPlan(true),
	)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestMetricsExtensionCountsLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	e := newEngine(t, observability.NewMetricsExtension(f))

	basic := &plan.Plan{Name: "Basic", Permissions: types.NewNameSet("weather"), UsageLimit: 1}
	require.NoError(t, e.CreatePlan(ctx, basic))
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)

	_, _ = e.CheckAccess(ctx, "weather", "u1")
	_, _ = e.CheckAccess(ctx, "weather", "u1")
	_, _ = e.CheckAccess(ctx, "news", "u1")
	_, _ = e.CheckAccess(ctx, "weather", "ghost")

	require.NoError(t, e.ResetUsage(ctx, "u1"))
	moved, err := e.DeletePlan(ctx, basic.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)

	// The seeded default plan counts as a created plan.
	assert.Equal(t, float64(2), f.counters["turnstile.plan.created"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.plan.deleted"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.plan.subscriptions_reassigned"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.subscription.assigned"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.subscription.usage_reset"].get())

	assert.Equal(t, float64(4), f.counters["turnstile.access.checks"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.access.granted"].get())
	assert.Equal(t, float64(3), f.counters["turnstile.access.denied"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.access.denied.quota_exceeded"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.access.denied.not_permitted"].get())
	assert.Equal(t, float64(1), f.counters["turnstile.access.denied.no_subscription"].get())
	assert.Equal(t, []float64{0}, f.histograms["turnstile.access.quota_remaining"].obs)
}

func TestPrometheusFactoryExposition(t *testing.T) {
	ctx := context.Background()
	f := observability.NewPrometheusFactory()
	e := newEngine(t, observability.NewMetricsExtension(f))

	basic := &plan.Plan{Name: "Basic", Permissions: types.NewNameSet("weather"), UsageLimit: 3}
	require.NoError(t, e.CreatePlan(ctx, basic))
	_, err := e.AssignSubscription(ctx, "u1", basic.ID)
	require.NoError(t, err)
	_, err = e.CheckAccess(ctx, "weather", "u1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "turnstile_access_checks_total 1")
	assert.Contains(t, body, "turnstile_access_granted_total 1")
	assert.Contains(t, body, "turnstile_access_quota_remaining_count 1")
}

func TestPrometheusFactoryReusesMetrics(t *testing.T) {
	f := observability.NewPrometheusFactory()

	a := f.Counter("turnstile.plan.created")
	b := f.Counter("turnstile.plan.created")
	assert.Same(t, a, b)
	assert.NotPanics(t, func() { f.Histogram("turnstile.access.quota_remaining") })
	assert.NotPanics(t, func() { f.Histogram("turnstile.access.quota_remaining") })
}
