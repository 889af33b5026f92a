package storage

import (
	"context"
	"sync"
	"time"

	"taskpulse/internal/execution"
	"taskpulse/internal/task"
)

// memStore keeps everything in process memory. Used by tests and by
// deployments that only want the engine's in-flight behavior.
type memStore struct {
	mu    sync.RWMutex
	tasks map[string]task.Task           // by code
	execs map[string]execution.Execution // by id
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		tasks: map[string]task.Task{},
		execs: map[string]execution.Execution{},
	}
}

func (s *memStore) UpsertTask(ctx context.Context, t task.Task) error {
	_ = ctx
	s.mu.Lock()
	s.tasks[t.Code] = t
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListTasks(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) SaveExecution(ctx context.Context, e execution.Execution) error {
	_ = ctx
	s.mu.Lock()
	s.execs[e.ID] = e
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListExecutions(ctx context.Context) ([]execution.Execution, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]execution.Execution, 0, len(s.execs))
	for _, e := range s.execs {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.execs {
		if e.Status.Terminal() && e.StartedAt.Before(before) {
			delete(s.execs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }
