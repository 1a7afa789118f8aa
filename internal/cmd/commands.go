package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/timofeymelnik/gestoria/internal/cmd/base"
	"github.com/timofeymelnik/gestoria/internal/cmd/commands/enrich"
	"github.com/timofeymelnik/gestoria/internal/cmd/commands/migrate"
	"github.com/timofeymelnik/gestoria/internal/cmd/commands/tasks"
	"github.com/timofeymelnik/gestoria/internal/cmd/commands/version"
	"github.com/timofeymelnik/gestoria/internal/cmd/commands/worker"
)

// Commands is the CLI command registry.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	newBase := func() *base.Command {
		return &base.Command{UI: ui, Log: log}
	}

	Commands = map[string]cli.CommandFactory{
		"worker": func() (cli.Command, error) {
			return &worker.Command{Command: newBase()}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &migrate.Command{Command: newBase()}, nil
		},
		"enrich": func() (cli.Command, error) {
			return &enrich.Command{Command: newBase()}, nil
		},
		"tasks": func() (cli.Command, error) {
			return &tasks.Command{Command: newBase()}, nil
		},
		"tasks status": func() (cli.Command, error) {
			return &tasks.StatusCommand{Command: newBase()}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: newBase()}, nil
		},
	}
}
