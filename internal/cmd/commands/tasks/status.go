package tasks

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/timofeymelnik/gestoria/internal/cmd/base"
	"github.com/timofeymelnik/gestoria/pkg/taskqueue"
)

type StatusCommand struct {
	*base.Command

	FlagTaskID string
}

func (c *StatusCommand) Synopsis() string {
	return "Show queue statistics or one task"
}

func (c *StatusCommand) Help() string {
	return `Usage: gestoria tasks status [options]

  Without -task-id, prints the number of tasks per status. With it,
  prints the task's stored snapshot.

Options:

  -config=<path>
      Path to an HCL config file.

  -task-id=<id>
      Show a single task instead of the per-status counts.`
}

func (c *StatusCommand) Run(args []string) int {
	f := c.FlagSet("tasks status")
	f.StringVar(&c.FlagTaskID, "task-id", "", "")
	if err := f.Parse(args); err != nil {
		return 1
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading config: %v", err))
		return 1
	}

	queue, err := taskqueue.New(cfg.QueueSettings(), c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error opening task queue: %v", err))
		return 1
	}
	defer queue.Close()

	if c.FlagTaskID != "" {
		return c.showTask(queue)
	}

	stats, err := queue.Stats()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reading queue stats: %v", err))
		return 1
	}

	statuses := make([]string, 0, len(stats))
	for status := range stats {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	if len(statuses) == 0 {
		c.UI.Output("queue is empty")
		return 0
	}
	for _, status := range statuses {
		c.UI.Output(fmt.Sprintf("%-12s %d", status, stats[status]))
	}
	return 0
}

func (c *StatusCommand) showTask(queue *taskqueue.Queue) int {
	taskID, err := parseTaskID(c.FlagTaskID)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	snapshot, err := queue.Get(taskID)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reading task: %v", err))
		return 1
	}
	if snapshot == nil {
		c.UI.Error(fmt.Sprintf("task %s not found", c.FlagTaskID))
		return 1
	}

	out, _ := json.MarshalIndent(snapshot, "", "  ")
	c.UI.Output(string(out))
	return 0
}
