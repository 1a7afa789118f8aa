// Package config loads and validates the gestoria runtime
// configuration from an HCL file.
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/timofeymelnik/gestoria/pkg/taskqueue"
)

// Repository backend selectors.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Config is the root runtime configuration.
type Config struct {
	// DatabasePath locates the embedded store backing the task queue
	// (and the sqlite repository backend).
	DatabasePath string `hcl:"database_path"`

	// LogLevel is the hclog level name (trace, debug, info, warn,
	// error). Defaults to info.
	LogLevel string `hcl:"log_level,optional"`

	Repository *RepositoryConfig `hcl:"repository,block"`
	Queue      *QueueConfig      `hcl:"queue,block"`
}

// RepositoryConfig selects and tunes the document repository backend.
type RepositoryConfig struct {
	// Backend is "sqlite" (default, shares the queue database) or
	// "json" (directory of per-record JSON files).
	Backend string `hcl:"backend,optional"`

	// RecordsDir holds the JSON backend's record files. Required for
	// the json backend.
	RecordsDir string `hcl:"records_dir,optional"`
}

// QueueConfig tunes the durable task queue. Durations are HCL strings
// like "30s" or "24h".
type QueueConfig struct {
	DefaultTTL        string `hcl:"default_ttl,optional"`
	DefaultMaxRetries *int   `hcl:"default_max_retries,optional"`
	DefaultRetryDelay string `hcl:"default_retry_delay,optional"`
	PollInterval      string `hcl:"poll_interval,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DatabasePath: "gestoria.db",
		LogLevel:     "info",
		Repository:   &RepositoryConfig{Backend: BackendSQLite},
		Queue:        &QueueConfig{},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Repository == nil {
		c.Repository = &RepositoryConfig{}
	}
	if c.Repository.Backend == "" {
		c.Repository.Backend = BackendSQLite
	}
	if c.Queue == nil {
		c.Queue = &QueueConfig{}
	}
}

// Validate checks the whole configuration, reporting every problem at
// once rather than the first one found.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validation.ValidateStruct(c,
		validation.Field(&c.DatabasePath, validation.Required),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
	); err != nil {
		result = multierror.Append(result, err)
	}

	if err := validation.ValidateStruct(c.Repository,
		validation.Field(&c.Repository.Backend, validation.Required, validation.In(BackendSQLite, BackendJSON)),
	); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Repository.Backend == BackendJSON && c.Repository.RecordsDir == "" {
		result = multierror.Append(result,
			fmt.Errorf("repository: records_dir is required for the json backend"))
	}

	for field, raw := range map[string]string{
		"default_ttl":         c.Queue.DefaultTTL,
		"default_retry_delay": c.Queue.DefaultRetryDelay,
		"poll_interval":       c.Queue.PollInterval,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			result = multierror.Append(result,
				fmt.Errorf("queue: %s: %w", field, err))
		}
	}
	if c.Queue.DefaultMaxRetries != nil && *c.Queue.DefaultMaxRetries < 0 {
		result = multierror.Append(result,
			fmt.Errorf("queue: default_max_retries must not be negative"))
	}

	return result.ErrorOrNil()
}

// QueueSettings projects the configuration onto queue settings,
// filling unset values from the queue defaults.
func (c *Config) QueueSettings() taskqueue.Settings {
	settings := taskqueue.DefaultSettings(c.DatabasePath)
	if c.Queue == nil {
		return settings
	}

	if c.Queue.DefaultTTL != "" {
		if d, err := time.ParseDuration(c.Queue.DefaultTTL); err == nil {
			settings.DefaultTTL = d
		}
	}
	if c.Queue.DefaultMaxRetries != nil {
		settings.DefaultMaxRetries = *c.Queue.DefaultMaxRetries
	}
	if c.Queue.DefaultRetryDelay != "" {
		if d, err := time.ParseDuration(c.Queue.DefaultRetryDelay); err == nil {
			settings.DefaultRetryDelay = d
		}
	}
	if c.Queue.PollInterval != "" {
		if d, err := time.ParseDuration(c.Queue.PollInterval); err == nil {
			settings.PollInterval = d
		}
	}
	return settings
}
