// Package base carries the pieces every CLI command shares: the UI,
// the logger, and the config-driven runtime assembly.
package base

import (
	"flag"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/timofeymelnik/gestoria/internal/config"
	"github.com/timofeymelnik/gestoria/internal/migrate"
	"github.com/timofeymelnik/gestoria/pkg/database"
	"github.com/timofeymelnik/gestoria/pkg/intake"
	"github.com/timofeymelnik/gestoria/pkg/intake/jsonstore"
	"github.com/timofeymelnik/gestoria/pkg/intake/sqlitestore"
	"gorm.io/gorm"
)

// Command is embedded by every CLI command.
type Command struct {
	UI  cli.Ui
	Log hclog.Logger

	// FlagConfig is the -config flag shared by all commands.
	FlagConfig string
}

// FlagSet returns a flag set pre-populated with the shared flags.
func (c *Command) FlagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.StringVar(&c.FlagConfig, "config", "", "Path to an HCL config file")
	return f
}

// LoadConfig reads the -config file, or the defaults when the flag is
// unset.
func (c *Command) LoadConfig() (*config.Config, error) {
	if c.FlagConfig == "" {
		return config.Default(), nil
	}
	return config.Load(c.FlagConfig)
}

// Repository assembles the configured document repository backend. The
// returned database handle is non-nil only for the sqlite backend; the
// caller owns its lifecycle.
func (c *Command) Repository(cfg *config.Config) (intake.Repository, *gorm.DB, error) {
	switch cfg.Repository.Backend {
	case config.BackendJSON:
		repo, err := jsonstore.New(afero.NewOsFs(), cfg.Repository.RecordsDir, c.Log)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil

	case config.BackendSQLite:
		db, err := database.Open(database.Config{Path: cfg.DatabasePath}, c.Log)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.Apply(db, c.Log); err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		return sqlitestore.New(db, c.Log), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown repository backend %q", cfg.Repository.Backend)
	}
}
