package storage

import (
	"context"
	"errors"
	"time"

	"taskpulse/internal/execution"
	"taskpulse/internal/task"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process maps (tests, dry runs)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the scheduler and app wiring.
//
// Reads return snapshots: callers may filter/sort/mutate results freely
// without affecting the store.
type Store interface {
	// UpsertTask inserts or replaces a task keyed by code.
	UpsertTask(ctx context.Context, t task.Task) error
	// ListTasks returns all tasks, active or not.
	ListTasks(ctx context.Context) ([]task.Task, error)

	// SaveExecution inserts or replaces an execution keyed by ID.
	SaveExecution(ctx context.Context, e execution.Execution) error
	// ListExecutions returns all retained executions.
	ListExecutions(ctx context.Context) ([]execution.Execution, error)
	// PruneExecutions deletes terminal executions started before the cutoff
	// and returns how many rows went away. Running records are never pruned.
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
