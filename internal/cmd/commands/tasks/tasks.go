// Package tasks groups the queue inspection subcommands.
package tasks

import (
	"github.com/mitchellh/cli"

	"github.com/timofeymelnik/gestoria/internal/cmd/base"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Inspect the durable task queue"
}

func (c *Command) Help() string {
	return `Usage: gestoria tasks <subcommand> [options]

  This command groups subcommands for inspecting the task queue.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}
