package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), *configPath)
		},
	}
}

func newSeedCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default plan if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd.Context(), *configPath)
		},
	}
}

func runMigrate(ctx context.Context, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	defer a.store.Close() //nolint:errcheck // process is exiting

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("migration complete", "database", a.cfg.Database.Driver)
	return nil
}

func runSeed(ctx context.Context, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	eng := a.engine()
	defer eng.Stop() //nolint:errcheck // process is exiting

	p, err := eng.EnsureDefaultPlan(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed default plan: %w", err)
	}
	a.logger.Info("default plan ready",
		"plan_id", p.ID.String(),
		"name", p.Name,
		"usage_limit", p.UsageLimit,
	)
	return nil
}
