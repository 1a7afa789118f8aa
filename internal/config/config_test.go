package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gestoria.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		path := writeConfig(t, `
database_path = "/var/lib/gestoria/gestoria.db"
log_level     = "debug"

repository {
  backend     = "json"
  records_dir = "/var/lib/gestoria/records"
}

queue {
  default_ttl         = "48h"
  default_max_retries = 5
  default_retry_delay = "1m"
  poll_interval       = "250ms"
}
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/gestoria/gestoria.db", cfg.DatabasePath)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, BackendJSON, cfg.Repository.Backend)
		assert.Equal(t, "/var/lib/gestoria/records", cfg.Repository.RecordsDir)

		settings := cfg.QueueSettings()
		assert.Equal(t, 48*time.Hour, settings.DefaultTTL)
		assert.Equal(t, 5, settings.DefaultMaxRetries)
		assert.Equal(t, time.Minute, settings.DefaultRetryDelay)
		assert.Equal(t, 250*time.Millisecond, settings.PollInterval)
	})

	t.Run("minimal file gets defaults", func(t *testing.T) {
		path := writeConfig(t, `database_path = "gestoria.db"`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, BackendSQLite, cfg.Repository.Backend)

		defaults := Default().QueueSettings()
		settings := cfg.QueueSettings()
		assert.Equal(t, defaults.DefaultTTL, settings.DefaultTTL)
		assert.Equal(t, defaults.DefaultMaxRetries, settings.DefaultMaxRetries)
		assert.Equal(t, defaults.PollInterval, settings.PollInterval)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
		require.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("reports every problem at once", func(t *testing.T) {
		retries := -1
		cfg := &Config{
			DatabasePath: "gestoria.db",
			LogLevel:     "verbose",
			Repository:   &RepositoryConfig{Backend: "postgres"},
			Queue: &QueueConfig{
				DefaultTTL:        "not a duration",
				DefaultMaxRetries: &retries,
			},
		}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LogLevel")
		assert.Contains(t, err.Error(), "Backend")
		assert.Contains(t, err.Error(), "default_ttl")
		assert.Contains(t, err.Error(), "default_max_retries")
	})

	t.Run("json backend requires records_dir", func(t *testing.T) {
		cfg := Default()
		cfg.Repository.Backend = BackendJSON

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "records_dir")
	})

	t.Run("default config is valid", func(t *testing.T) {
		require.NoError(t, Default().Validate())
	})
}

func TestQueueSettingsIgnoresUnsetBlock(t *testing.T) {
	cfg := &Config{DatabasePath: "gestoria.db"}
	settings := cfg.QueueSettings()
	assert.Equal(t, "gestoria.db", settings.DatabasePath)
}
