package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"taskpulse/internal/eventbus"
	"taskpulse/internal/execution"
	logx "taskpulse/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan dispatch, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case d, ok := <-queue:
			if !ok {
				return
			}
			s.run(ctx, log, d)
		}
	}
}

// run executes one dispatched job and persists its terminal record.
func (s *Service) run(ctx context.Context, log logx.Logger, d dispatch) {
	s.markInflight(d.exec.ID)
	defer s.unmarkInflight(d.exec.ID)

	fn, ok := s.jobFor(d.task.Code)
	if !ok {
		s.completeWith(ctx, d, execution.Result{
			Status:       execution.StatusFailed,
			ErrorMessage: fmt.Sprintf("no job registered for task %s", d.task.Code),
		})
		return
	}

	timeout := d.timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := runJob(jobCtx, fn)
	cancel()

	switch {
	case err == nil:
		s.completeWith(ctx, d, execution.Result{
			Status:           execution.StatusCompleted,
			RecordsProcessed: &res.RecordsProcessed,
			ResultSummary:    res.Summary,
		})
	case errors.Is(err, context.DeadlineExceeded):
		s.completeWith(ctx, d, execution.Result{
			Status:       execution.StatusTimeout,
			ErrorMessage: fmt.Sprintf("exceeded timeout %s", timeout),
		})
	default:
		log.Warn("job failed",
			logx.String("code", d.task.Code), logx.String("execution", d.exec.ID), logx.Err(err))
		s.completeWith(ctx, d, execution.Result{
			Status:       execution.StatusFailed,
			ErrorMessage: err.Error(),
		})
		s.maybeRetry(ctx, d)
	}
}

// runJob isolates job panics so one bad handler cannot take down a worker.
func runJob(ctx context.Context, fn JobFunc) (res JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// completeWith finalizes the execution record and updates the task's
// last-run bookkeeping.
func (s *Service) completeWith(ctx context.Context, d dispatch, r execution.Result) {
	done, err := execution.Complete(d.exec, r)
	if err != nil {
		s.log.Error("execution completion rejected",
			logx.String("execution", d.exec.ID), logx.Err(err))
		return
	}
	if err := s.store.SaveExecution(ctx, done); err != nil {
		s.log.Warn("execution save failed", logx.String("execution", done.ID), logx.Err(err))
	}
	s.recordLastRun(ctx, d, done)

	ev := ExecutionEvent{
		ExecutionID: done.ID,
		TaskCode:    d.task.Code,
		Status:      done.Status,
		StartedAt:   done.StartedAt,
		Error:       done.ErrorMessage,
	}
	if done.ExecutionTimeMS != nil {
		ev.DurationMS = *done.ExecutionTimeMS
	}
	switch done.Status {
	case execution.StatusCompleted:
		s.publish(eventbus.TypeExecutionCompleted, ev)
	case execution.StatusTimeout:
		s.publish(eventbus.TypeExecutionTimeout, ev)
	default:
		s.publish(eventbus.TypeExecutionFailed, ev)
	}
}

// recordLastRun writes LastRunAt/Status/Duration onto the task row. The task
// is re-fetched so a NextRunAt advanced since dispatch isn't clobbered.
func (s *Service) recordLastRun(ctx context.Context, d dispatch, done execution.Execution) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		s.log.Warn("last-run refresh failed", logx.String("code", d.task.Code), logx.Err(err))
		return
	}
	cur := d.task
	for _, t := range tasks {
		if t.Code == d.task.Code {
			cur = t
			break
		}
	}
	started := done.StartedAt
	cur.LastRunAt = &started
	cur.LastRunStatus = done.Status
	cur.LastRunDurationMS = done.ExecutionTimeMS
	cur.UpdatedAt = time.Now()
	if err := s.store.UpsertTask(ctx, cur); err != nil {
		s.log.Warn("last-run update failed", logx.String("code", cur.Code), logx.Err(err))
	}
}

// maybeRetry re-queues a failed scheduled run once with trigger "retry".
// Manual and retry runs never chain, so a broken job fails at most twice
// per scheduled slot.
func (s *Service) maybeRetry(ctx context.Context, d dispatch) {
	s.mu.Lock()
	retry := s.cfg.RetryFailed
	queue := s.queue
	s.mu.Unlock()
	if !retry || queue == nil || d.exec.TriggeredBy != execution.TriggerSchedule {
		return
	}

	exec := execution.New(d.exec.TaskID, execution.TriggerRetry)
	if err := s.store.SaveExecution(ctx, exec); err != nil {
		s.log.Warn("retry create failed", logx.String("code", d.task.Code), logx.Err(err))
		return
	}
	select {
	case queue <- dispatch{task: d.task, exec: exec, timeout: d.timeout}:
		s.log.Info("retrying failed execution",
			logx.String("code", d.task.Code), logx.String("execution", exec.ID))
		s.publish(eventbus.TypeExecutionStarted, ExecutionEvent{
			ExecutionID: exec.ID, TaskCode: d.task.Code, StartedAt: exec.StartedAt,
		})
	default:
		s.dropped.Add(1)
		s.completeWith(ctx, dispatch{task: d.task, exec: exec}, execution.Result{
			Status:       execution.StatusFailed,
			ErrorMessage: ErrQueueFull.Error(),
		})
	}
}
