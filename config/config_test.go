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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "strategy:\n  name: goal-hedge\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.Strategy.BackStake)
	assert.Equal(t, 0.30, cfg.Strategy.TriggerMovePct)
	assert.Equal(t, 45, cfg.Strategy.CutoffMinute)
	assert.Equal(t, 10*time.Second, cfg.ActivePollInterval())
	assert.Equal(t, 30*time.Second, cfg.OrderVerifyWindow())
	assert.Equal(t, 2*time.Second, cfg.OrderPollInterval())
	assert.Equal(t, 45*time.Minute, cfg.ShadowWindow())
	assert.Equal(t, "hedger.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
strategy:
  back_stake: 25
  trigger_move_pct: 0.40
  cutoff_minute: 40
engine:
  active_poll_seconds: 5
storage:
  dsn: ":memory:"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.Strategy.BackStake)
	assert.Equal(t, 0.40, cfg.Strategy.TriggerMovePct)
	assert.Equal(t, 40, cfg.Strategy.CutoffMinute)
	assert.Equal(t, 5*time.Second, cfg.ActivePollInterval())
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
}

// Las credenciales vienen siempre del entorno, nunca del YAML.
func TestLoad_CredentialsFromEnvOnly(t *testing.T) {
	t.Setenv("VENUE_USERNAME", "env-user")
	t.Setenv("VENUE_PASSWORD", "env-pass")
	t.Setenv("VENUE_APP_KEY", "env-key")

	path := writeConfig(t, "venue:\n  app_key: yaml-key\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-user", cfg.Venue.Username)
	assert.Equal(t, "env-pass", cfg.Venue.Password)
	assert.Equal(t, "env-key", cfg.Venue.AppKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
