package main

import (
	"fmt"
	"io"
	"log/slog"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/internal/config"
	"github.com/xraph/turnstile/internal/logger"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/store/gormdb"
	"github.com/xraph/turnstile/store/memory"
)

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store

	logCloser io.Closer
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	s, err := openStore(cfg.Database)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: log, store: s, logCloser: closer}, nil
}

// engine builds the engine; migrations and seeding are left to the caller.
func (a *app) engine(opts ...turnstile.Option) *turnstile.Engine {
	base := []turnstile.Option{
		turnstile.WithLogger(a.logger),
		turnstile.WithDefaultPlan(a.cfg.DefaultPlan.Name, a.cfg.DefaultPlan.Limit),
		turnstile.WithMaxConsumeRetries(a.cfg.Engine.MaxConsumeRetries),
		turnstile.WithAutoMigrate(false),
	}
	return turnstile.New(a.store, append(base, opts...)...)
}

func (a *app) close() {
	_ = a.logCloser.Close()
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	return gormdb.New(db), nil
}
