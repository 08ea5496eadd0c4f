package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	p := storetest.NewPlan("Basic", 2, "weather")
	require.NoError(t, s.CreatePlan(ctx, p))
	p.Permissions.Add("news")

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Permits("news"))

	got.Permissions.Add("stocks")
	again, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, again.Permits("stocks"))
}

func TestClose(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), turnstile.ErrStoreClosed)
}
