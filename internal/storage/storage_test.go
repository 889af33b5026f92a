package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"taskpulse/internal/execution"
	"taskpulse/internal/task"
	logx "taskpulse/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "taskpulse.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(disabled) = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestTaskRoundtrip(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			defer st.Close()
			ctx := context.Background()

			next := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
			dur := int64(1234)
			in := task.Task{
				ID:                "task-1",
				Code:              "OVERDUE_INVOICES",
				Name:              "Recalculate overdue invoices",
				CronExpression:    "0 9 * * *",
				Timezone:          "UTC",
				IsActive:          true,
				NextRunAt:         &next,
				LastRunStatus:     execution.StatusCompleted,
				LastRunDurationMS: &dur,
			}
			if err := st.UpsertTask(ctx, in); err != nil {
				t.Fatalf("UpsertTask: %v", err)
			}

			// Upsert by code replaces, not duplicates.
			in.Name = "Recalculate overdue invoices v2"
			if err := st.UpsertTask(ctx, in); err != nil {
				t.Fatalf("UpsertTask again: %v", err)
			}

			tasks, err := st.ListTasks(ctx)
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(tasks) != 1 {
				t.Fatalf("len(tasks) = %d, want 1", len(tasks))
			}
			got := tasks[0]
			if got.Name != "Recalculate overdue invoices v2" {
				t.Fatalf("Name = %q", got.Name)
			}
			if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
				t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
			}
			if got.LastRunDurationMS == nil || *got.LastRunDurationMS != 1234 {
				t.Fatalf("LastRunDurationMS = %v", got.LastRunDurationMS)
			}
			if got.LastRunStatus != execution.StatusCompleted {
				t.Fatalf("LastRunStatus = %q", got.LastRunStatus)
			}
		})
	}
}

func TestExecutionRoundtripAndPrune(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			defer st.Close()
			ctx := context.Background()
			base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

			old := execution.NewAt("task-1", execution.TriggerSchedule, base)
			oldDone, err := execution.Complete(old, execution.Result{Status: execution.StatusCompleted, CompletedAt: timePtr(base.Add(time.Second))})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			stale := execution.NewAt("task-1", execution.TriggerSchedule, base.Add(time.Hour)) // still running
			fresh := execution.NewAt("task-2", execution.TriggerManual, base.Add(48*time.Hour))

			for _, e := range []execution.Execution{oldDone, stale, fresh} {
				if err := st.SaveExecution(ctx, e); err != nil {
					t.Fatalf("SaveExecution: %v", err)
				}
			}

			execs, err := st.ListExecutions(ctx)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(execs) != 3 {
				t.Fatalf("len = %d, want 3", len(execs))
			}

			// Prune removes old terminal rows only; running survives.
			n, err := st.PruneExecutions(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("PruneExecutions: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned = %d, want 1", n)
			}
			execs, err = st.ListExecutions(ctx)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(execs) != 2 {
				t.Fatalf("after prune len = %d, want 2", len(execs))
			}
			for _, e := range execs {
				if e.ID == oldDone.ID {
					t.Fatal("pruned row still present")
				}
			}
		})
	}
}

func TestSaveExecutionUpdatesTerminalFields(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			defer st.Close()
			ctx := context.Background()

			e := execution.NewAt("task-1", execution.TriggerRetry, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
			if err := st.SaveExecution(ctx, e); err != nil {
				t.Fatalf("SaveExecution: %v", err)
			}

			done, err := execution.Complete(e, execution.Result{
				Status:       execution.StatusFailed,
				CompletedAt:  timePtr(e.StartedAt.Add(5 * time.Second)),
				ErrorMessage: "ledger locked",
			})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if err := st.SaveExecution(ctx, done); err != nil {
				t.Fatalf("SaveExecution update: %v", err)
			}

			execs, err := st.ListExecutions(ctx)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(execs) != 1 {
				t.Fatalf("len = %d, want 1 (update, not insert)", len(execs))
			}
			got := execs[0]
			if got.Status != execution.StatusFailed || got.ErrorMessage != "ledger locked" {
				t.Fatalf("row = %+v", got)
			}
			if !execution.IsComplete(got) {
				t.Fatal("persisted row fails IsComplete")
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
