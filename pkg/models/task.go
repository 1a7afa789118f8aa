package models

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/timofeymelnik/gestoria/pkg/recordid"
)

// Task is a durable unit of deferred work with retry policy and
// idempotency de-duplication. The queue owns the table; the payload and
// result columns stay raw JSON text so that corrupt data surfaces as
// queue state (dead-letter, null result) instead of a scan failure.
type Task struct {
	TaskID   recordid.ID `gorm:"column:task_id;primaryKey" json:"taskId"`
	TaskType string      `gorm:"column:task_type;not null" json:"taskType"`

	// Raw JSON text; decoded explicitly by the worker.
	PayloadJSON string  `gorm:"column:payload_json;not null" json:"payloadJson"`
	ResultJSON  *string `gorm:"column:result_json" json:"resultJson,omitempty"`

	Status            string `gorm:"column:status;not null;index:idx_task_queue_status_available,priority:1" json:"status"`
	Attempts          int    `gorm:"column:attempts;not null" json:"attempts"`
	MaxRetries        int    `gorm:"column:max_retries;not null" json:"maxRetries"`
	RetryDelaySeconds int64  `gorm:"column:retry_delay_seconds;not null" json:"retryDelaySeconds"`

	// Unix seconds, managed explicitly by the queue (no gorm auto-time).
	AvailableAt int64 `gorm:"column:available_at;not null;index:idx_task_queue_status_available,priority:2" json:"availableAt"`
	CreatedAt   int64 `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt   int64 `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updatedAt"`
	ExpiresAt   int64 `gorm:"column:expires_at;not null;index:idx_task_queue_expires" json:"expiresAt"`

	IdempotencyKey   string `gorm:"column:idempotency_key;index:idx_task_queue_idempotency" json:"idempotencyKey,omitempty"`
	LastError        string `gorm:"column:last_error;not null;default:''" json:"lastError,omitempty"`
	DeadLetterReason string `gorm:"column:dead_letter_reason;not null;default:''" json:"deadLetterReason,omitempty"`
}

// TableName specifies the table name.
func (Task) TableName() string {
	return "task_queue"
}

// TaskStatus constants
const (
	TaskStatusQueued     = "queued"
	TaskStatusRunning    = "running"
	TaskStatusRetrying   = "retrying"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusDeadLetter = "dead_letter"
)

// DeadLetterReason constants
const (
	DeadLetterMaxRetriesExceeded = "max_retries_exceeded"
	DeadLetterHandlerNotFound    = "handler_not_found"
	DeadLetterPayloadDecodeError = "payload_decode_error"
)

// IsTerminal reports whether the task can never transition again.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusDeadLetter:
		return true
	}
	return false
}

// BeforeCreate hook to ensure required fields.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.TaskID.IsZero() {
		return fmt.Errorf("task_id is required")
	}
	if t.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if t.PayloadJSON == "" {
		return fmt.Errorf("payload_json is required")
	}
	if t.Status == "" {
		t.Status = TaskStatusQueued
	}
	return nil
}

// GetTask retrieves a task by id. Returns (nil, nil) when absent.
func GetTask(db *gorm.DB, id recordid.ID) (*Task, error) {
	var task Task
	err := db.Where("task_id = ?", id.String()).First(&task).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetLatestTaskByIdempotencyKey retrieves the most recent surviving task
// carrying the given idempotency key, regardless of status.
// Returns (nil, nil) when absent.
func GetLatestTaskByIdempotencyKey(db *gorm.DB, key string) (*Task, error) {
	var task Task
	err := db.
		Where("idempotency_key = ?", key).
		Order("created_at DESC").
		First(&task).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimNextDueTask atomically selects the oldest due task (FIFO by
// available_at, then created_at) and transitions it to running with
// attempts incremented. Returns (nil, nil) when nothing is due.
func ClaimNextDueTask(db *gorm.DB, now int64) (*Task, error) {
	var claimed *Task

	err := db.Transaction(func(tx *gorm.DB) error {
		var task Task
		err := tx.
			Where("status IN ? AND available_at <= ?",
				[]string{TaskStatusQueued, TaskStatusRetrying}, now).
			Order("available_at ASC, created_at ASC").
			First(&task).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&task).Updates(map[string]interface{}{
			"status":     TaskStatusRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		}).Error; err != nil {
			return err
		}

		// Re-read so the caller sees the post-claim attempt count.
		if err := tx.Where("task_id = ?", task.TaskID.String()).First(&task).Error; err != nil {
			return err
		}

		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted transitions the task to completed with an optional
// JSON-encoded result, clearing any prior error state.
func (t *Task) MarkCompleted(db *gorm.DB, resultJSON *string, now int64) error {
	return db.Model(t).Updates(map[string]interface{}{
		"status":             TaskStatusCompleted,
		"result_json":        resultJSON,
		"last_error":         "",
		"dead_letter_reason": "",
		"updated_at":         now,
	}).Error
}

// MarkRetrying schedules another attempt at availableAt, recording the
// handler failure message.
func (t *Task) MarkRetrying(db *gorm.DB, errMsg string, availableAt, now int64) error {
	return db.Model(t).Updates(map[string]interface{}{
		"status":             TaskStatusRetrying,
		"available_at":       availableAt,
		"last_error":         errMsg,
		"dead_letter_reason": "",
		"updated_at":         now,
	}).Error
}

// MarkFailure transitions the task to a terminal failure state:
// dead_letter with a reason tag, or the plain failed status when
// deadLetter is false.
func (t *Task) MarkFailure(db *gorm.DB, errMsg, reason string, deadLetter bool, now int64) error {
	status := TaskStatusFailed
	if deadLetter {
		status = TaskStatusDeadLetter
	} else {
		reason = ""
	}
	return db.Model(t).Updates(map[string]interface{}{
		"status":             status,
		"last_error":         errMsg,
		"dead_letter_reason": reason,
		"updated_at":         now,
	}).Error
}

// PurgeExpiredTasks deletes terminal tasks whose retention TTL has
// elapsed. Non-terminal rows are never purged for TTL expiry.
func PurgeExpiredTasks(db *gorm.DB, now int64) (int64, error) {
	result := db.
		Where("expires_at <= ? AND status IN ?", now,
			[]string{TaskStatusCompleted, TaskStatusFailed, TaskStatusDeadLetter}).
		Delete(&Task{})
	return result.RowsAffected, result.Error
}

// RecoverRunningTasks re-dispositions rows left in running by a crash:
// rows out of retry budget go to dead_letter, the rest become due
// immediately as retrying. Returns (requeued, deadLettered).
func RecoverRunningTasks(db *gorm.DB, now int64) (int64, int64, error) {
	dead := db.Model(&Task{}).
		Where("status = ? AND attempts > max_retries", TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":             TaskStatusDeadLetter,
			"dead_letter_reason": DeadLetterMaxRetriesExceeded,
			"last_error":         "interrupted while running",
			"updated_at":         now,
		})
	if dead.Error != nil {
		return 0, 0, dead.Error
	}

	requeued := db.Model(&Task{}).
		Where("status = ?", TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":       TaskStatusRetrying,
			"available_at": now,
			"updated_at":   now,
		})
	if requeued.Error != nil {
		return 0, dead.RowsAffected, requeued.Error
	}

	return requeued.RowsAffected, dead.RowsAffected, nil
}

// CountTasksByStatus returns the number of tasks per status.
func CountTasksByStatus(db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := db.Model(&Task{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
