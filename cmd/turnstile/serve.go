package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/api"
	"github.com/xraph/turnstile/observability"
)

func newServeCommand(configPath *string) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath, skipMigrate)
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate the database on start-up")
	return cmd
}

func runServe(ctx context.Context, configPath string, skipMigrate bool) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	var (
		engineOpts []turnstile.Option
		apiOpts    = []api.Option{api.WithLogger(a.logger)}
	)
	if a.cfg.Metrics.Enabled {
		metrics := observability.NewPrometheusFactory()
		engineOpts = append(engineOpts, turnstile.WithPlugin(observability.NewMetricsExtension(metrics)))
		apiOpts = append(apiOpts, api.WithMetrics(a.cfg.Metrics.Path, metrics.Handler()))
	}
	engineOpts = append(engineOpts,
		turnstile.WithAutoMigrate(!skipMigrate),
		turnstile.WithSeedDefaultPlan(a.cfg.DefaultPlan.Seed),
	)

	eng := a.engine(engineOpts...)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		_ = a.store.Close()
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			a.logger.Error("failed to stop engine", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.New(eng, apiOpts...).Routes(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			"addr", a.cfg.Server.Addr,
			"database", a.cfg.Database.Driver,
			"metrics", a.cfg.Metrics.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
