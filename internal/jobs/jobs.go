// Package jobs holds the built-in job handlers shipped with the daemon.
//
// Real deployments register their own handlers for domain tasks (invoice
// recalculation, reminder fan-out, ...); these built-ins cover operational
// self-checks and give fresh installs something runnable out of the box.
package jobs

import (
	"context"
	"fmt"
	"time"

	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// Heartbeat returns a job that logs liveness and always succeeds.
// Useful as a canary task: if heartbeat executions stop appearing in
// history, the scheduler itself is wedged.
func Heartbeat(log logx.Logger) scheduler.JobFunc {
	return func(ctx context.Context) (scheduler.JobResult, error) {
		log.Info("heartbeat")
		return scheduler.JobResult{RecordsProcessed: 1, Summary: "alive"}, nil
	}
}

// StoreAudit returns a job that counts retained tasks and executions,
// surfacing store health through the normal execution-history channel.
func StoreAudit(store storage.Store) scheduler.JobFunc {
	return func(ctx context.Context) (scheduler.JobResult, error) {
		started := time.Now()
		tasks, err := store.ListTasks(ctx)
		if err != nil {
			return scheduler.JobResult{}, fmt.Errorf("list tasks: %w", err)
		}
		execs, err := store.ListExecutions(ctx)
		if err != nil {
			return scheduler.JobResult{}, fmt.Errorf("list executions: %w", err)
		}
		return scheduler.JobResult{
			RecordsProcessed: int64(len(tasks) + len(execs)),
			Summary: fmt.Sprintf("%d tasks, %d executions, scanned in %s",
				len(tasks), len(execs), time.Since(started).Round(time.Millisecond)),
		}, nil
	}
}
