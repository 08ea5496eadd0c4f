package extension

import (
	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/plugin"
	"github.com/xraph/turnstile/store"
)

// Option configures the Turnstile Forge extension.
type Option func(*Extension)

// WithStore sets the store for the turnstile engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a turnstile.Option through to the underlying engine.
func WithEngineOption(opt turnstile.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a turnstile plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, turnstile.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableSeed prevents creating the default plan on start.
func WithDisableSeed() Option {
	return func(e *Extension) { e.config.DisableSeed = true }
}

// WithDefaultPlan sets the fallback plan name and its seed limit.
func WithDefaultPlan(name string, limit int64) Option {
	return func(e *Extension) {
		e.config.DefaultPlanName = name
		e.config.DefaultPlanLimit = limit
	}
}

// WithMaxConsumeRetries bounds access-check retries under contention.
func WithMaxConsumeRetries(n int) Option {
	return func(e *Extension) { e.config.MaxConsumeRetries = n }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
