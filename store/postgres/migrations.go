package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Turnstile store.
var Migrations = migrate.NewGroup("turnstile")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_turnstile_plans",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS turnstile_plans (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    api_permissions TEXT NOT NULL DEFAULT '',
    usage_limit     BIGINT NOT NULL DEFAULT 0 CHECK (usage_limit >= 0),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_turnstile_plans_name ON turnstile_plans (name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS turnstile_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_turnstile_permissions",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS turnstile_permissions (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    api_endpoint TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_turnstile_permissions_name ON turnstile_permissions (name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS turnstile_permissions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_turnstile_user_subscriptions",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS turnstile_user_subscriptions (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    plan_id     TEXT NOT NULL REFERENCES turnstile_plans (id),
    usage_count BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_turnstile_subs_user ON turnstile_user_subscriptions (user_id);
CREATE INDEX IF NOT EXISTS idx_turnstile_subs_plan ON turnstile_user_subscriptions (plan_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS turnstile_user_subscriptions`)
				return err
			},
		},
	)
}
