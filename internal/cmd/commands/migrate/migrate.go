// Package migrate implements the schema migration command.
package migrate

import (
	"fmt"

	"github.com/timofeymelnik/gestoria/internal/cmd/base"
	schema "github.com/timofeymelnik/gestoria/internal/migrate"
	"github.com/timofeymelnik/gestoria/pkg/database"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Apply pending schema migrations"
}

func (c *Command) Help() string {
	return `Usage: gestoria migrate [options]

  Applies every pending schema migration to the embedded store and
  prints the applied set. Safe to run repeatedly.

Options:

  -config=<path>
      Path to an HCL config file.`
}

func (c *Command) Run(args []string) int {
	f := c.FlagSet("migrate")
	if err := f.Parse(args); err != nil {
		return 1
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading config: %v", err))
		return 1
	}

	db, err := database.Open(database.Config{Path: cfg.DatabasePath}, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error opening database: %v", err))
		return 1
	}
	defer database.Close(db)

	if err := schema.Apply(db, c.Log); err != nil {
		c.UI.Error(fmt.Sprintf("migration failed: %v", err))
		return 1
	}

	applied, err := schema.Applied(db)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reading applied migrations: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf("%d migrations applied:", len(applied)))
	for _, m := range applied {
		c.UI.Output("  " + m.MigrationID)
	}
	return 0
}
