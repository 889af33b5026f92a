package execution

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Known reports whether s is one of the four defined statuses.
func (s Status) Known() bool {
	return s == StatusRunning || s.Terminal()
}

// Trigger records how an execution was started.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerRetry    Trigger = "retry"
)

// Known reports whether t is one of the three defined triggers.
func (t Trigger) Known() bool {
	return t == TriggerSchedule || t == TriggerManual || t == TriggerRetry
}

// Execution is one concrete run attempt of a scheduled task.
//
// StartedAt and TriggeredBy are set at creation and never change.
// CompletedAt and ExecutionTimeMS stay nil while the run is in flight and are
// set exactly once by Complete.
type Execution struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Status      Status  `json:"status"`
	TriggeredBy Trigger `json:"triggered_by"`

	ExecutionTimeMS *int64 `json:"execution_time_ms,omitempty"`

	RecordsProcessed *int64 `json:"records_processed,omitempty"`
	ResultSummary    string `json:"result_summary,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// New creates a running execution for the given task.
func New(taskID string, triggeredBy Trigger) Execution {
	return NewAt(taskID, triggeredBy, time.Now())
}

// NewAt is New with an explicit start instant.
func NewAt(taskID string, triggeredBy Trigger, startedAt time.Time) Execution {
	return Execution{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		StartedAt:   startedAt,
		Status:      StatusRunning,
		TriggeredBy: triggeredBy,
	}
}
