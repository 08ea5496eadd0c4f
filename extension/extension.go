// Package extension provides the Forge extension adapter for Turnstile.
//
// It implements the forge.Extension interface to integrate Turnstile
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.turnstile" or
// "turnstile" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "turnstile"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription plans and metered API entitlements"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Turnstile as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *turnstile.Engine
	store      store.Store
	engineOpts []turnstile.Option
}

// New creates a new Turnstile Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Turnstile engine.
// This is nil until Register is called.
func (e *Extension) Engine() *turnstile.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = turnstile.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*turnstile.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("turnstile: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("turnstile: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs turnstile.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []turnstile.Option {
	opts := make([]turnstile.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		turnstile.WithAutoMigrate(!e.config.DisableMigrate),
		turnstile.WithSeedDefaultPlan(!e.config.DisableSeed),
		turnstile.WithDefaultPlan(e.config.DefaultPlanName, e.config.DefaultPlanLimit),
		turnstile.WithMaxConsumeRetries(e.config.MaxConsumeRetries),
	)

	// Pass-through options go last so they win over config.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("turnstile: configuration is required but not found in config files; " +
				"ensure 'extensions.turnstile' or 'turnstile' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("turnstile: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_seed", e.config.DisableSeed),
		forge.F("default_plan_name", e.config.DefaultPlanName),
		forge.F("default_plan_limit", e.config.DefaultPlanLimit),
		forge.F("max_consume_retries", e.config.MaxConsumeRetries),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.turnstile", "turnstile"} {
		if !cm.IsSet(key) {
			continue
		}

		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("turnstile: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}

		e.Logger().Debug("turnstile: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.DefaultPlanName == "" {
		cfg.DefaultPlanName = defaults.DefaultPlanName
	}
	if cfg.DefaultPlanLimit == 0 {
		cfg.DefaultPlanLimit = defaults.DefaultPlanLimit
	}
	if cfg.MaxConsumeRetries == 0 {
		cfg.MaxConsumeRetries = defaults.MaxConsumeRetries
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps and
// programmatic bool flags override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSeed {
		yamlConfig.DisableSeed = true
	}

	if yamlConfig.DefaultPlanName == "" && programmaticConfig.DefaultPlanName != "" {
		yamlConfig.DefaultPlanName = programmaticConfig.DefaultPlanName
	}
	if yamlConfig.DefaultPlanLimit == 0 && programmaticConfig.DefaultPlanLimit != 0 {
		yamlConfig.DefaultPlanLimit = programmaticConfig.DefaultPlanLimit
	}
	if yamlConfig.MaxConsumeRetries == 0 && programmaticConfig.MaxConsumeRetries != 0 {
		yamlConfig.MaxConsumeRetries = programmaticConfig.MaxConsumeRetries
	}

	return mergeWithDefaults(yamlConfig)
}
