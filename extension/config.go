package extension

// Config holds the Turnstile extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.turnstile" or "turnstile" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSeed prevents creating the default plan on start.
	DisableSeed bool `json:"disable_seed" mapstructure:"disable_seed" yaml:"disable_seed"`

	// DefaultPlanName is the plan subscribers fall back to when their plan
	// is deleted (default: "Free Plan").
	DefaultPlanName string `json:"default_plan_name" mapstructure:"default_plan_name" yaml:"default_plan_name"`

	// DefaultPlanLimit is the usage limit the default plan is seeded with
	// (default: 5).
	DefaultPlanLimit int64 `json:"default_plan_limit" mapstructure:"default_plan_limit" yaml:"default_plan_limit"`

	// MaxConsumeRetries bounds how often an access check re-evaluates after
	// losing a race on the usage counter (default: 8).
	MaxConsumeRetries int `json:"max_consume_retries" mapstructure:"max_consume_retries" yaml:"max_consume_retries"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPlanName:   "Free Plan",
		DefaultPlanLimit:  5,
		MaxConsumeRetries: 8,
	}
}
