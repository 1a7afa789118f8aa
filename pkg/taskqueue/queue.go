// Package taskqueue implements a durable, single-process task queue on
// top of the embedded store. Tasks survive restarts, retry with linear
// backoff, dead-letter when out of budget, and de-duplicate on caller
// supplied idempotency keys. One worker claims and executes tasks;
// handlers run outside the storage mutex so long handlers never block
// submitters or status reads.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/timofeymelnik/gestoria/internal/migrate"
	"github.com/timofeymelnik/gestoria/pkg/database"
	"github.com/timofeymelnik/gestoria/pkg/models"
	"github.com/timofeymelnik/gestoria/pkg/recordid"
)

// ErrClosed is returned by operations on a queue whose storage
// connection has been released.
var ErrClosed = errors.New("task queue is closed")

// StructuralError marks a handler failure that no amount of retrying
// can fix (for example task arguments that do not decode). The task
// dead-letters immediately with the reason tag instead of consuming
// its retry budget.
type StructuralError struct {
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	return e.Err.Error()
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// PayloadError wraps err as a structural payload decode failure.
func PayloadError(err error) error {
	return &StructuralError{Reason: models.DeadLetterPayloadDecodeError, Err: err}
}

// Settings configures a Queue. Durations are converted to whole seconds
// when persisted.
type Settings struct {
	// DatabasePath locates the embedded store file.
	DatabasePath string

	// DefaultTTL is the retention period for terminal tasks.
	DefaultTTL time.Duration

	// DefaultMaxRetries bounds handler retries; 0 means a single try.
	DefaultMaxRetries int

	// DefaultRetryDelay is the linear backoff base unit.
	DefaultRetryDelay time.Duration

	// PollInterval is how long the worker sleeps when nothing is due.
	PollInterval time.Duration
}

// DefaultSettings returns production defaults for the given store path.
func DefaultSettings(databasePath string) Settings {
	return Settings{
		DatabasePath:      databasePath,
		DefaultTTL:        7 * 24 * time.Hour,
		DefaultMaxRetries: 3,
		DefaultRetryDelay: 30 * time.Second,
		PollInterval:      time.Second,
	}
}

// Validate checks the settings for construction.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.DatabasePath, validation.Required),
		validation.Field(&s.DefaultTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.DefaultMaxRetries, validation.Min(0)),
		validation.Field(&s.DefaultRetryDelay, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.PollInterval, validation.Required, validation.Min(10*time.Millisecond)),
	)
}

// Handler executes one task. The payload is the decoded submission map;
// the returned map is persisted as the task result and must be JSON
// serializable. Handlers are never cancelled by Stop: an in-flight
// handler always runs to completion. Returned errors feed the retry
// policy.
type Handler func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

// Queue owns the task_queue table: it enqueues, claims, executes via
// registered handlers, and persists outcomes.
type Queue struct {
	settings Settings
	logger   hclog.Logger
	db       *gorm.DB
	fileLock *flock.Flock

	// mu serializes every storage transactional unit. Handler
	// invocation happens outside of it.
	mu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	lifeMu  sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New opens the embedded store at settings.DatabasePath, applies schema
// migrations, recovers tasks left running by a previous crash, and
// returns a queue ready for handler registration. A file lock next to
// the database rejects a second process on the same queue.
func New(settings Settings, log hclog.Logger) (*Queue, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue settings: %w", err)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("task-queue")

	var fileLock *flock.Flock
	if settings.DatabasePath != ":memory:" {
		fileLock = flock.New(settings.DatabasePath + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire queue lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("queue database %s is in use by another process", settings.DatabasePath)
		}
	}

	db, err := database.Open(database.Config{Path: settings.DatabasePath}, log)
	if err != nil {
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, err
	}

	if err := migrate.Apply(db, log); err != nil {
		_ = database.Close(db)
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, err
	}

	now := time.Now().Unix()
	requeued, deadLettered, err := models.RecoverRunningTasks(db, now)
	if err != nil {
		_ = database.Close(db)
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, fmt.Errorf("failed to recover running tasks: %w", err)
	}
	if requeued > 0 || deadLettered > 0 {
		log.Warn("recovered tasks left running by previous process",
			"requeued", requeued,
			"dead_lettered", deadLettered,
		)
	}

	return &Queue{
		settings: settings,
		logger:   log,
		db:       db,
		fileLock: fileLock,
		handlers: make(map[string]Handler),
	}, nil
}

// RegisterHandler routes tasks of the given type to handler. The type
// is normalized to lowercase and trimmed; registering again overwrites
// the previous handler. Registration is expected before Start.
func (q *Queue) RegisterHandler(taskType string, handler Handler) error {
	normalized := normalizeTaskType(taskType)
	if normalized == "" {
		return fmt.Errorf("task type is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required for task type %q", normalized)
	}

	q.handlersMu.Lock()
	q.handlers[normalized] = handler
	q.handlersMu.Unlock()

	q.logger.Debug("handler registered", "task_type", normalized)
	return nil
}

// SubmitOption overrides a per-task queue default.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	idempotencyKey string
	ttl            *time.Duration
	maxRetries     *int
	retryDelay     *time.Duration
}

// WithIdempotencyKey de-duplicates submissions: while a task carrying
// the key survives in storage, repeat submissions return its id.
func WithIdempotencyKey(key string) SubmitOption {
	return func(o *submitOptions) { o.idempotencyKey = key }
}

// WithTTL overrides the retention period for this task's terminal row.
func WithTTL(ttl time.Duration) SubmitOption {
	return func(o *submitOptions) { o.ttl = &ttl }
}

// WithMaxRetries overrides the retry budget; 0 means a single try.
func WithMaxRetries(n int) SubmitOption {
	return func(o *submitOptions) { o.maxRetries = &n }
}

// WithRetryDelay overrides the linear backoff base unit.
func WithRetryDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.retryDelay = &d }
}

// Submit enqueues a task and returns its id. The payload must be JSON
// serializable; it is opaque to the queue. Expired terminal tasks are
// purged on the way in.
func (q *Queue) Submit(taskType string, payload map[string]interface{}, opts ...SubmitOption) (recordid.ID, error) {
	if err := q.ensureOpen(); err != nil {
		return recordid.ID{}, err
	}

	normalized := normalizeTaskType(taskType)
	if err := validation.Validate(normalized, validation.Required.Error("task type is required")); err != nil {
		return recordid.ID{}, err
	}

	options := submitOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	ttl := q.settings.DefaultTTL
	if options.ttl != nil {
		ttl = *options.ttl
	}
	maxRetries := q.settings.DefaultMaxRetries
	if options.maxRetries != nil {
		maxRetries = *options.maxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := q.settings.DefaultRetryDelay
	if options.retryDelay != nil {
		retryDelay = *options.retryDelay
	}
	retryDelaySeconds := int64(retryDelay / time.Second)
	if retryDelaySeconds < 1 {
		retryDelaySeconds = 1
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return recordid.ID{}, fmt.Errorf("payload is not JSON serializable: %w", err)
	}

	now := time.Now().Unix()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := models.PurgeExpiredTasks(q.db, now); err != nil {
		return recordid.ID{}, fmt.Errorf("failed to purge expired tasks: %w", err)
	}

	if options.idempotencyKey != "" {
		existing, err := models.GetLatestTaskByIdempotencyKey(q.db, options.idempotencyKey)
		if err != nil {
			return recordid.ID{}, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if existing != nil {
			q.logger.Debug("submission deduplicated",
				"task_id", existing.TaskID,
				"task_type", existing.TaskType,
				"idempotency_key", options.idempotencyKey,
			)
			return existing.TaskID, nil
		}
	}

	task := &models.Task{
		TaskID:            recordid.New(),
		TaskType:          normalized,
		PayloadJSON:       string(payloadJSON),
		Status:            models.TaskStatusQueued,
		Attempts:          0,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: retryDelaySeconds,
		AvailableAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now + int64(ttl/time.Second),
		IdempotencyKey:    options.idempotencyKey,
	}
	if err := q.db.Create(task).Error; err != nil {
		return recordid.ID{}, fmt.Errorf("failed to store task: %w", err)
	}

	q.logger.Info("task submitted",
		"task_id", task.TaskID,
		"task_type", task.TaskType,
		"max_retries", task.MaxRetries,
	)
	return task.TaskID, nil
}

// TaskSnapshot is a read-only view of one task row.
type TaskSnapshot struct {
	TaskID            recordid.ID            `json:"taskId"`
	TaskType          string                 `json:"taskType"`
	Status            string                 `json:"status"`
	Attempts          int                    `json:"attempts"`
	MaxRetries        int                    `json:"maxRetries"`
	RetryDelaySeconds int64                  `json:"retryDelaySeconds"`
	AvailableAt       int64                  `json:"availableAt"`
	CreatedAt         int64                  `json:"createdAt"`
	UpdatedAt         int64                  `json:"updatedAt"`
	ExpiresAt         int64                  `json:"expiresAt"`
	IdempotencyKey    string                 `json:"idempotencyKey,omitempty"`
	Result            map[string]interface{} `json:"result"`
	LastError         string                 `json:"lastError,omitempty"`
	DeadLetterReason  string                 `json:"deadLetterReason,omitempty"`
}

// Terminal reports whether the snapshot's status can never change.
func (s *TaskSnapshot) Terminal() bool {
	switch s.Status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusDeadLetter:
		return true
	}
	return false
}

// Get returns a snapshot of the task, or nil when it does not exist
// (including when its terminal row has been purged). A corrupt stored
// result is surfaced as a nil Result, never as an error.
func (q *Queue) Get(taskID recordid.ID) (*TaskSnapshot, error) {
	if err := q.ensureOpen(); err != nil {
		return nil, err
	}

	now := time.Now().Unix()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := models.PurgeExpiredTasks(q.db, now); err != nil {
		return nil, fmt.Errorf("failed to purge expired tasks: %w", err)
	}

	task, err := models.GetTask(q.db, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil {
		return nil, nil
	}
	return snapshotFromTask(task), nil
}

func snapshotFromTask(t *models.Task) *TaskSnapshot {
	snapshot := &TaskSnapshot{
		TaskID:            t.TaskID,
		TaskType:          t.TaskType,
		Status:            t.Status,
		Attempts:          t.Attempts,
		MaxRetries:        t.MaxRetries,
		RetryDelaySeconds: t.RetryDelaySeconds,
		AvailableAt:       t.AvailableAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		ExpiresAt:         t.ExpiresAt,
		IdempotencyKey:    t.IdempotencyKey,
		LastError:         t.LastError,
		DeadLetterReason:  t.DeadLetterReason,
	}

	if t.ResultJSON != nil {
		result := map[string]interface{}{}
		if err := json.Unmarshal([]byte(*t.ResultJSON), &result); err == nil {
			snapshot.Result = result
		}
	}
	return snapshot
}

// Stats returns the number of tasks per status.
func (q *Queue) Stats() (map[string]int64, error) {
	if err := q.ensureOpen(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return models.CountTasksByStatus(q.db)
}

// Start launches the background worker. Starting an already running
// queue is a no-op.
func (q *Queue) Start() error {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.started {
		return nil
	}

	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.started = true
	go q.run(q.stopCh, q.doneCh)
	return nil
}

// Stop signals the worker and waits for it to exit. An in-flight
// handler runs to completion first. Stopping a stopped queue is a
// no-op.
func (q *Queue) Stop() {
	q.lifeMu.Lock()
	if !q.started {
		q.lifeMu.Unlock()
		return
	}
	stopCh, doneCh := q.stopCh, q.doneCh
	q.started = false
	q.lifeMu.Unlock()

	close(stopCh)
	<-doneCh
}

// Close stops the worker when running and releases the storage
// connection and the process lock. The queue cannot be reused.
func (q *Queue) Close() error {
	q.Stop()

	q.lifeMu.Lock()
	if q.closed {
		q.lifeMu.Unlock()
		return nil
	}
	q.closed = true
	q.lifeMu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()

	err := database.Close(q.db)
	if q.fileLock != nil {
		if unlockErr := q.fileLock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

func (q *Queue) ensureOpen() error {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func normalizeTaskType(taskType string) string {
	return strings.ToLower(strings.TrimSpace(taskType))
}
