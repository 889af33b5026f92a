package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskpulse/internal/eventbus"
	"taskpulse/internal/execution"
	"taskpulse/internal/storage"
	"taskpulse/internal/task"
	logx "taskpulse/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func testConfig() Config {
	return Config{
		Enabled:        true,
		Workers:        2,
		QueueSize:      8,
		PollInterval:   20 * time.Millisecond,
		DefaultTimeout: time.Second,
		DispatchPerSec: 100,
	}
}

func seedTask(t *testing.T, store storage.Store, code, schedule string) task.Task {
	t.Helper()
	tk := task.Task{
		ID:             "tid-" + code,
		Code:           code,
		Name:           code,
		CronExpression: schedule,
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := store.UpsertTask(context.Background(), tk); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return tk
}

// waitFor polls until fn returns true or the deadline passes.
func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func findExecs(t *testing.T, store storage.Store, taskRef string) []execution.Execution {
	t.Helper()
	execs, err := store.ListExecutions(context.Background())
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	var out []execution.Execution
	for _, e := range execs {
		if e.TaskID == taskRef {
			out = append(out, e)
		}
	}
	return out
}

func TestTriggerRunsJob(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(testConfig(), store, eventbus.New(), nopLogger())
	tk := seedTask(t, store, "REPORT_DAILY", "0 9 * * *")

	svc.RegisterJob("REPORT_DAILY", func(ctx context.Context) (JobResult, error) {
		return JobResult{RecordsProcessed: 42, Summary: "42 rows"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	exec, err := svc.Trigger(ctx, "REPORT_DAILY")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if exec.TriggeredBy != execution.TriggerManual || exec.Status != execution.StatusRunning {
		t.Fatalf("trigger exec = %+v", exec)
	}

	waitFor(t, func() bool {
		for _, e := range findExecs(t, store, tk.ID) {
			if e.ID == exec.ID && e.Status == execution.StatusCompleted {
				return true
			}
		}
		return false
	})

	for _, e := range findExecs(t, store, tk.ID) {
		if e.ID != exec.ID {
			continue
		}
		if e.RecordsProcessed == nil || *e.RecordsProcessed != 42 {
			t.Fatalf("records_processed = %v", e.RecordsProcessed)
		}
		if e.ResultSummary != "42 rows" {
			t.Fatalf("result_summary = %q", e.ResultSummary)
		}
		if !execution.IsComplete(e) {
			t.Fatalf("record not structurally complete: %+v", e)
		}
	}

	// Task bookkeeping follows the run.
	waitFor(t, func() bool {
		tasks, _ := store.ListTasks(context.Background())
		got, ok := task.FindByCode(tasks, "REPORT_DAILY")
		return ok && got.LastRunStatus == execution.StatusCompleted && got.LastRunAt != nil
	})
}

func TestTriggerUnknownTask(t *testing.T) {
	t.Parallel()
	svc := New(testConfig(), storage.NewMemory(), nil, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if _, err := svc.Trigger(ctx, "NO_SUCH_TASK"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("err = %v, want ErrUnknownTask", err)
	}
}

func TestTriggerDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	svc := New(cfg, storage.NewMemory(), nil, nopLogger())
	if _, err := svc.Trigger(context.Background(), "ANY_TASK"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestTriggerRejectsOverlap(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(testConfig(), store, nil, nopLogger())
	seedTask(t, store, "SLOW_SYNC", "0 * * * *")

	release := make(chan struct{})
	started := make(chan struct{})
	svc.RegisterJob("SLOW_SYNC", func(ctx context.Context) (JobResult, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return JobResult{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if _, err := svc.Trigger(ctx, "SLOW_SYNC"); err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	<-started
	if _, err := svc.Trigger(ctx, "SLOW_SYNC"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Trigger err = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestJobTimeoutBecomesTimeoutStatus(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	cfg := testConfig()
	cfg.DefaultTimeout = 30 * time.Millisecond
	svc := New(cfg, store, nil, nopLogger())
	tk := seedTask(t, store, "STUCK_JOB", "0 * * * *")

	svc.RegisterJob("STUCK_JOB", func(ctx context.Context) (JobResult, error) {
		<-ctx.Done()
		return JobResult{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if _, err := svc.Trigger(ctx, "STUCK_JOB"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, func() bool {
		for _, e := range findExecs(t, store, tk.ID) {
			if e.Status == execution.StatusTimeout {
				return true
			}
		}
		return false
	})
}

func TestJobPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(testConfig(), store, nil, nopLogger())
	tk := seedTask(t, store, "BAD_JOB", "0 * * * *")

	svc.RegisterJob("BAD_JOB", func(ctx context.Context) (JobResult, error) {
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if _, err := svc.Trigger(ctx, "BAD_JOB"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, func() bool {
		for _, e := range findExecs(t, store, tk.ID) {
			if e.Status == execution.StatusFailed && e.ErrorMessage != "" {
				return true
			}
		}
		return false
	})
}

func TestUnregisteredJobFails(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(testConfig(), store, nil, nopLogger())
	tk := seedTask(t, store, "ORPHAN_TASK", "0 * * * *")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if _, err := svc.Trigger(ctx, "ORPHAN_TASK"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, func() bool {
		for _, e := range findExecs(t, store, tk.ID) {
			if e.Status == execution.StatusFailed {
				return true
			}
		}
		return false
	})
}

func TestScheduledDispatchAndRetry(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	cfg := testConfig()
	cfg.RetryFailed = true
	svc := New(cfg, store, eventbus.New(), nopLogger())

	// Every-minute schedule with NextRunAt already in the past makes the
	// first poll tick dispatch immediately.
	tk := seedTask(t, store, "FLAKY_IMPORT", "* * * * *")
	past := time.Now().Add(-time.Minute)
	tk.NextRunAt = &past
	if err := store.UpsertTask(context.Background(), tk); err != nil {
		t.Fatalf("seed next_run_at: %v", err)
	}

	var calls atomic.Int64
	svc.RegisterJob("FLAKY_IMPORT", func(ctx context.Context) (JobResult, error) {
		if calls.Add(1) == 1 {
			return JobResult{}, errors.New("transient upstream failure")
		}
		return JobResult{RecordsProcessed: 7}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	var sched, retr execution.Execution
	waitFor(t, func() bool {
		sched, retr = execution.Execution{}, execution.Execution{}
		for _, e := range findExecs(t, store, tk.ID) {
			switch e.TriggeredBy {
			case execution.TriggerSchedule:
				sched = e
			case execution.TriggerRetry:
				retr = e
			}
		}
		return sched.Status == execution.StatusFailed && retr.Status == execution.StatusCompleted
	})
	if retr.RecordsProcessed == nil || *retr.RecordsProcessed != 7 {
		t.Fatalf("retry records_processed = %v", retr.RecordsProcessed)
	}
}

func TestReapStaleTimesOutOrphans(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	cfg := testConfig()
	cfg.DefaultTimeout = 10 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	svc := New(cfg, store, nil, nopLogger())

	// A running record from a dead process: old, and not in-flight here.
	orphan := execution.NewAt("tid-GHOST", execution.TriggerSchedule, time.Now().Add(-time.Hour))
	if err := store.SaveExecution(context.Background(), orphan); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	svc.reapStale(context.Background(), []execution.Execution{orphan}, time.Now())

	execs := findExecs(t, store, "tid-GHOST")
	if len(execs) != 1 || execs[0].Status != execution.StatusTimeout {
		t.Fatalf("orphan after reap = %+v", execs)
	}
	if execs[0].CompletedAt == nil {
		t.Fatal("reaped orphan missing completed_at")
	}
}

func TestReapStaleSkipsInflight(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(testConfig(), store, nil, nopLogger())

	e := execution.NewAt("tid-LIVE", execution.TriggerSchedule, time.Now().Add(-time.Hour))
	if err := store.SaveExecution(context.Background(), e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc.markInflight(e.ID)
	defer svc.unmarkInflight(e.ID)

	svc.reapStale(context.Background(), []execution.Execution{e}, time.Now())

	execs := findExecs(t, store, "tid-LIVE")
	if execs[0].Status != execution.StatusRunning {
		t.Fatalf("in-flight execution reaped: %+v", execs[0])
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	bus := eventbus.New()
	svc := New(testConfig(), store, bus, nopLogger())
	seedTask(t, store, "PING_JOB", "0 * * * *")
	svc.RegisterJob("PING_JOB", func(ctx context.Context) (JobResult, error) {
		return JobResult{}, nil
	})

	ch, unsub := bus.Subscribe(16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	if _, err := svc.Trigger(ctx, "PING_JOB"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for !(seen[eventbus.TypeExecutionStarted] && seen[eventbus.TypeExecutionCompleted]) {
		select {
		case ev := <-ch:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("events seen = %v", seen)
		}
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	svc := New(testConfig(), storage.NewMemory(), nil, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	snap := svc.Snapshot()
	if !snap.Enabled || snap.Workers != 2 || snap.QueueCap != 8 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	svc := New(testConfig(), storage.NewMemory(), nil, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}
