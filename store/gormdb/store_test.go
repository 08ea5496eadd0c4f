package gormdb_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/store/gormdb"
	"github.com/xraph/turnstile/store/storetest"
	"github.com/xraph/turnstile/types"
)

func newStore(t *testing.T) store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Each connection to ":memory:" is its own database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := gormdb.New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestPing(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestDeletePermissionKeepsSpacedNames(t *testing.T) {
	ctx := context.Background()
	e := turnstile.New(newStore(t),
		turnstile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		turnstile.WithSeedDefaultPlan(true),
	)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	basic := &plan.Plan{Name: "Basic", Permissions: types.NewNameSet(" weather", "news"), UsageLimit: 3}
	require.NoError(t, e.CreatePlan(ctx, basic))
	news := &permission.Permission{Name: "news", APIEndpoint: "/api/news"}
	require.NoError(t, e.CreatePermission(ctx, news))

	scrubbed, err := e.DeletePermission(ctx, news.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, scrubbed)

	got, err := e.GetPlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{" weather"}, got.Permissions.Names())
}
