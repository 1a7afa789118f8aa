package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/timofeymelnik/gestoria/pkg/models"
)

// run processes due tasks until stop-signaled. When nothing is due it
// waits for the poll interval or the stop signal, whichever comes
// first. Storage failures never kill the loop; they stretch the wait
// so a broken database is not hammered at the poll rate.
func (q *Queue) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	q.logger.Info("worker started", "poll_interval", q.settings.PollInterval)

	storageBackoff := backoff.NewExponentialBackOff()
	storageBackoff.InitialInterval = q.settings.PollInterval
	storageBackoff.MaxInterval = time.Minute
	storageBackoff.MaxElapsedTime = 0

	for {
		select {
		case <-stopCh:
			q.logger.Info("worker stopped")
			return
		default:
		}

		processed, err := q.processOne()
		switch {
		case err != nil:
			q.logger.Error("task processing failed", "error", err)
			if !q.sleep(stopCh, storageBackoff.NextBackOff()) {
				q.logger.Info("worker stopped")
				return
			}
		case processed:
			storageBackoff.Reset()
		default:
			storageBackoff.Reset()
			if !q.sleep(stopCh, q.settings.PollInterval) {
				q.logger.Info("worker stopped")
				return
			}
		}
	}
}

// sleep waits for d or the stop signal. Returns false when stopped.
func (q *Queue) sleep(stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// processOne claims and executes at most one due task. The returned
// error reports storage failures only; handler failures become task
// state and are never propagated.
func (q *Queue) processOne() (bool, error) {
	now := time.Now().Unix()

	q.mu.Lock()
	task, err := models.ClaimNextDueTask(q.db, now)
	q.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	q.logger.Debug("task claimed",
		"task_id", task.TaskID,
		"task_type", task.TaskType,
		"attempt", task.Attempts,
	)

	q.handlersMu.RLock()
	handler, ok := q.handlers[task.TaskType]
	q.handlersMu.RUnlock()
	if !ok {
		q.logger.Warn("no handler registered",
			"task_id", task.TaskID,
			"task_type", task.TaskType,
		)
		return true, q.failTask(task,
			fmt.Sprintf("no handler registered for task type %q", task.TaskType),
			models.DeadLetterHandlerNotFound)
	}

	payload := map[string]interface{}{}
	if err := json.Unmarshal([]byte(task.PayloadJSON), &payload); err != nil {
		q.logger.Warn("task payload is not decodable",
			"task_id", task.TaskID,
			"task_type", task.TaskType,
			"error", err,
		)
		return true, q.failTask(task,
			fmt.Sprintf("payload decode failed: %v", err),
			models.DeadLetterPayloadDecodeError)
	}

	result, handlerErr := q.invokeHandler(handler, payload)
	if handlerErr == nil {
		var resultJSON *string
		if result != nil {
			encoded, err := json.Marshal(result)
			if err != nil {
				handlerErr = fmt.Errorf("result is not JSON serializable: %w", err)
			} else {
				s := string(encoded)
				resultJSON = &s
			}
		}

		if handlerErr == nil {
			now = time.Now().Unix()
			q.mu.Lock()
			err = task.MarkCompleted(q.db, resultJSON, now)
			q.mu.Unlock()
			if err != nil {
				return true, fmt.Errorf("failed to mark task completed: %w", err)
			}

			q.logger.Info("task completed",
				"task_id", task.TaskID,
				"task_type", task.TaskType,
				"attempts", task.Attempts,
			)
			return true, nil
		}
	}

	return true, q.disposeFailure(task, handlerErr)
}

// invokeHandler runs the handler outside the storage mutex. A panic is
// contained and reported as a handler failure.
func (q *Queue) invokeHandler(handler Handler, payload map[string]interface{}) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(context.Background(), payload)
}

// disposeFailure applies the retry policy to a handler failure:
// schedule another attempt with linearly growing delay while budget
// remains, otherwise dead-letter.
func (q *Queue) disposeFailure(task *models.Task, handlerErr error) error {
	msg := handlerErr.Error()
	now := time.Now().Unix()

	var structural *StructuralError
	if errors.As(handlerErr, &structural) {
		return q.failTask(task, msg, structural.Reason)
	}

	if shouldRetry(task) {
		availableAt := nextAvailableAt(task, now)

		q.mu.Lock()
		err := task.MarkRetrying(q.db, msg, availableAt, now)
		q.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to mark task retrying: %w", err)
		}

		q.logger.Warn("task failed, retry scheduled",
			"task_id", task.TaskID,
			"task_type", task.TaskType,
			"attempt", task.Attempts,
			"max_retries", task.MaxRetries,
			"next_attempt_at", availableAt,
			"error", msg,
		)
		return nil
	}

	return q.failTask(task, msg, models.DeadLetterMaxRetriesExceeded)
}

// failTask dead-letters the task with a reason tag.
func (q *Queue) failTask(task *models.Task, msg, reason string) error {
	now := time.Now().Unix()

	q.mu.Lock()
	err := task.MarkFailure(q.db, msg, reason, true, now)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to mark task dead-lettered: %w", err)
	}

	q.logger.Error("task dead-lettered",
		"task_id", task.TaskID,
		"task_type", task.TaskType,
		"attempts", task.Attempts,
		"reason", reason,
		"error", msg,
	)
	return nil
}

// shouldRetry reports whether the attempt budget allows another run:
// max_retries bounds retries, so the total attempt count may reach
// max_retries + 1.
func shouldRetry(t *models.Task) bool {
	return t.Attempts <= t.MaxRetries
}

// nextAvailableAt schedules the next attempt with linear backoff:
// the delay grows with the attempt count.
func nextAvailableAt(t *models.Task, now int64) int64 {
	return now + t.RetryDelaySeconds*int64(t.Attempts)
}
