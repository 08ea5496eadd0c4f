package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "turnstile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "Free Plan", cfg.DefaultPlan.Name)
	assert.Equal(t, int64(5), cfg.DefaultPlan.Limit)
	assert.True(t, cfg.DefaultPlan.Seed)
	assert.Equal(t, 8, cfg.Engine.MaxConsumeRetries)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 3s
database:
  driver: memory
default_plan:
  name: Starter
  limit: 20
`)
	t.Setenv("TURNSTILE_DEFAULT_PLAN_LIMIT", "7")
	t.Setenv("TURNSTILE_LOGGER_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "Starter", cfg.DefaultPlan.Name)
	assert.Equal(t, int64(7), cfg.DefaultPlan.Limit)
	assert.Equal(t, "json", cfg.Logger.Format)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database:    DatabaseConfig{Driver: DriverMySQL, DSN: "user:pw@tcp(localhost:3306)/turnstile"},
			DefaultPlan: DefaultPlanConfig{Name: "Free Plan", Limit: 5},
			Metrics:     MetricsConfig{Enabled: true, Path: "/metrics"},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Database.DSN = ""
	assert.ErrorContains(t, cfg.Validate(), "database.dsn")

	cfg = base()
	cfg.Database.Driver = "oracle"
	assert.ErrorContains(t, cfg.Validate(), "unsupported")

	cfg = base()
	cfg.DefaultPlan.Name = ""
	assert.ErrorContains(t, cfg.Validate(), "default_plan.name")

	cfg = base()
	cfg.DefaultPlan.Limit = -1
	assert.ErrorContains(t, cfg.Validate(), "default_plan.limit")

	cfg = base()
	cfg.Metrics.Path = "metrics"
	assert.ErrorContains(t, cfg.Validate(), "metrics.path")
}
