// Package enrich implements the one-shot enrichment submission command.
package enrich

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/timofeymelnik/gestoria/internal/cmd/base"
	"github.com/timofeymelnik/gestoria/pkg/database"
	"github.com/timofeymelnik/gestoria/pkg/enrichment"
	"github.com/timofeymelnik/gestoria/pkg/taskqueue"
)

type Command struct {
	*base.Command

	FlagDocumentID     string
	FlagSourceDocument string
	FlagIdempotencyKey string
	FlagWait           bool
	FlagTimeout        time.Duration
}

func (c *Command) Synopsis() string {
	return "Submit an enrichment task for a document"
}

func (c *Command) Help() string {
	return `Usage: gestoria enrich -document-id=<id> [options]

  Submits an enrich_document task and optionally waits for it to reach
  a terminal status, printing the stored result.

Options:

  -config=<path>
      Path to an HCL config file.

  -document-id=<id>
      Document to enrich. Required.

  -source-document-id=<id>
      Pin the enrichment source instead of resolving it by identity.

  -idempotency-key=<key>
      De-duplicate repeat submissions under this key.

  -wait
      Poll the task until it reaches a terminal status.

  -timeout=<duration>
      Give up waiting after this long (default 2m).`
}

func (c *Command) Run(args []string) int {
	f := c.FlagSet("enrich")
	f.StringVar(&c.FlagDocumentID, "document-id", "", "")
	f.StringVar(&c.FlagSourceDocument, "source-document-id", "", "")
	f.StringVar(&c.FlagIdempotencyKey, "idempotency-key", "", "")
	f.BoolVar(&c.FlagWait, "wait", false, "")
	f.DurationVar(&c.FlagTimeout, "timeout", 2*time.Minute, "")
	if err := f.Parse(args); err != nil {
		return 1
	}
	if c.FlagDocumentID == "" {
		c.UI.Error("-document-id is required")
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

	payload := map[string]interface{}{
		"document_id": c.FlagDocumentID,
	}
	if c.FlagSourceDocument != "" {
		payload["source_document_id"] = c.FlagSourceDocument
	}

	var opts []taskqueue.SubmitOption
	if c.FlagIdempotencyKey != "" {
		opts = append(opts, taskqueue.WithIdempotencyKey(c.FlagIdempotencyKey))
	}

	taskID, err := queue.Submit(enrichment.TaskTypeEnrichDocument, payload, opts...)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error submitting task: %v", err))
		return 1
	}
	c.UI.Output(fmt.Sprintf("task submitted: %s", taskID))

	if !c.FlagWait {
		return 0
	}

	// Waiting requires the handlers to run in this process.
	svc := enrichment.NewService(repo, c.Log)
	if err := enrichment.RegisterHandlers(queue, svc); err != nil {
		c.UI.Error(fmt.Sprintf("error registering handlers: %v", err))
		return 1
	}
	if err := queue.Start(); err != nil {
		c.UI.Error(fmt.Sprintf("error starting worker: %v", err))
		return 1
	}
	defer queue.Stop()

	deadline := time.Now().Add(c.FlagTimeout)
	for time.Now().Before(deadline) {
		snapshot, err := queue.Get(taskID)
		if err != nil {
			c.UI.Error(fmt.Sprintf("error reading task: %v", err))
			return 1
		}
		if snapshot != nil && snapshot.Terminal() {
			out, _ := json.MarshalIndent(snapshot, "", "  ")
			c.UI.Output(string(out))
			if snapshot.Status != "completed" {
				return 1
			}
			return 0
		}
		time.Sleep(200 * time.Millisecond)
	}

	c.UI.Error(fmt.Sprintf("task %s did not finish within %s", taskID, c.FlagTimeout))
	return 1
}
