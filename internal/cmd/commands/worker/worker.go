// Package worker implements the long-running queue worker command.
package worker

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/timofeymelnik/gestoria/internal/cmd/base"
	"github.com/timofeymelnik/gestoria/pkg/database"
	"github.com/timofeymelnik/gestoria/pkg/enrichment"
	"github.com/timofeymelnik/gestoria/pkg/taskqueue"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Run the durable task queue worker"
}

func (c *Command) Help() string {
	return `Usage: gestoria worker [options]

  Runs the background worker: applies schema migrations, recovers
  interrupted tasks, registers the enrichment handlers, and processes
  due tasks until interrupted.

Options:

  -config=<path>
      Path to an HCL config file.`
}

func (c *Command) Run(args []string) int {
	f := c.FlagSet("worker")
	if err := f.Parse(args); err != nil {
		return 1
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading config: %v", err))
		return 1
	}

	repo, db, err := c.Repository(cfg)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error opening repository: %v", err))
		return 1
	}
	if db != nil {
		defer database.Close(db)
	}

	queue, err := taskqueue.New(cfg.QueueSettings(), c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error opening task queue: %v", err))
		return 1
	}
	defer queue.Close()

	svc := enrichment.NewService(repo, c.Log)
	if err := enrichment.RegisterHandlers(queue, svc); err != nil {
		c.UI.Error(fmt.Sprintf("error registering handlers: %v", err))
		return 1
	}

	if err := queue.Start(); err != nil {
		c.UI.Error(fmt.Sprintf("error starting worker: %v", err))
		return 1
	}
	c.UI.Info(fmt.Sprintf("worker running against %s", cfg.DatabasePath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	c.UI.Info(fmt.Sprintf("received %s, draining", sig))
	queue.Stop()
	return 0
}
