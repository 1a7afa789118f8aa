// Package version implements the version command.
package version

import (
	"github.com/timofeymelnik/gestoria/internal/cmd/base"
	"github.com/timofeymelnik/gestoria/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: gestoria version

  Prints the build version.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
