package scheduler

import (
	"context"
	"time"

	"taskpulse/internal/execution"
	"taskpulse/internal/task"
)

// Config controls the polling/dispatch loop.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// PollInterval is how often the due-task scan runs.
	PollInterval time.Duration

	// DefaultTimeout bounds a single job run. A run that exceeds it is
	// completed with status timeout.
	DefaultTimeout time.Duration

	// DispatchPerSec caps executions dispatched per second so a backlog of
	// due tasks after downtime drains gradually instead of stampeding.
	DispatchPerSec int

	// RetryFailed re-runs a failed scheduled execution once (trigger "retry").
	RetryFailed bool

	// RetentionDays is how long terminal executions are kept; the
	// housekeeping job prunes older ones.
	RetentionDays int

	// HousekeepingSpec is the cron schedule for history pruning.
	HousekeepingSpec string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.DispatchPerSec <= 0 {
		c.DispatchPerSec = 10
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.HousekeepingSpec == "" {
		c.HousekeepingSpec = "0 3 * * *"
	}
	return c
}

// JobFunc is the side-effecting work bound to a task code. The engine only
// records outcomes; what a job actually does (notifications, invoice
// recalculation, ...) lives with the caller.
type JobFunc func(ctx context.Context) (JobResult, error)

// JobResult describes a successful run.
type JobResult struct {
	RecordsProcessed int64
	Summary          string
}

// dispatch is one execution handed to the worker pool.
type dispatch struct {
	task    task.Task
	exec    execution.Execution
	timeout time.Duration
}

// ExecutionEvent is the payload published on the event bus.
type ExecutionEvent struct {
	ExecutionID string           `json:"execution_id"`
	TaskCode    string           `json:"task_code"`
	Status      execution.Status `json:"status,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	DurationMS  int64            `json:"duration_ms,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	Dropped  uint64
	Inflight int
}
