// Package scheduler polls the task store for due work, dispatches executions
// to a worker pool, and records their full lifecycle.
//
// The engine core (cronexpr, task, execution) is pure; this package is the
// calling layer that owns clocks, goroutines and persistence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"taskpulse/internal/eventbus"
	"taskpulse/internal/execution"
	"taskpulse/internal/storage"
	"taskpulse/internal/task"
	logx "taskpulse/pkg/logx"
)

var (
	ErrDisabled    = errors.New("scheduler disabled")
	ErrStopped     = errors.New("scheduler not running")
	ErrQueueFull   = errors.New("scheduler queue full")
	ErrOverlapSkip = errors.New("task already running")
	ErrUnknownTask = errors.New("unknown task code")
)

// Service executes due tasks from the store using a worker pool.
//
// One execution per task may be in flight at a time: a task whose previous
// run is still recorded as running is skipped, never double-dispatched.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	store storage.Store
	bus   eventbus.Bus

	jobsMu sync.RWMutex
	jobs   map[string]JobFunc

	queue     chan dispatch
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	limiter *rate.Limiter
	cronRun *cron.Cron

	// inflight tracks execution IDs currently inside a worker, so the stale
	// reaper never times out a run that is merely slow in-process.
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	dropped atomic.Uint64
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		bus:      bus,
		log:      log,
		jobs:     map[string]JobFunc{},
		inflight: map[string]struct{}{},
	}
}

// RegisterJob binds a handler to a task code. Re-registering replaces.
func (s *Service) RegisterJob(code string, fn JobFunc) {
	s.jobsMu.Lock()
	s.jobs[code] = fn
	s.jobsMu.Unlock()
}

func (s *Service) jobFor(code string) (JobFunc, bool) {
	s.jobsMu.RLock()
	fn, ok := s.jobs[code]
	s.jobsMu.RUnlock()
	return fn, ok
}

// Enabled reports the config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps runtime-tunable settings. Pool size changes require a restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	if s.limiter != nil {
		s.limiter.SetLimit(rate.Limit(s.cfg.DispatchPerSec))
		s.limiter.SetBurst(s.cfg.DispatchPerSec)
	}
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	if s.store == nil {
		s.log.Warn("scheduler started without a store; nothing to do")
		return
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.queue = make(chan dispatch, s.cfg.QueueSize)
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.DispatchPerSec), s.cfg.DispatchPerSec)

	workers := s.cfg.Workers
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker",
						logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.pollLoop(runCtx, stopCh)
	}()

	// Housekeeping runs on its own cron schedule, independent of the poll
	// loop, so retention work never competes with dispatch latency.
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.HousekeepingSpec, func() { s.housekeeping(runCtx) }); err != nil {
		s.log.Warn("invalid housekeeping spec; pruning disabled",
			logx.String("spec", s.cfg.HousekeepingSpec), logx.Err(err))
	} else {
		c.Start()
		s.cronRun = c
	}

	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("dispatch_per_sec", s.cfg.DispatchPerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.cronRun
	s.stopCh = nil
	s.runCancel = nil
	s.cronRun = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	s.mu.Lock()
	interval := s.cfg.PollInterval
	s.mu.Unlock()

	tick := time.NewTicker(interval)
	defer tick.Stop()

	// One immediate pass so due tasks don't wait a full interval at boot.
	s.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-tick.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs one due-task scan: refresh missing next-run times, dispatch due
// tasks, and reap stale running records.
func (s *Service) tick(ctx context.Context, now time.Time) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		s.log.Warn("task scan failed", logx.Err(err))
		return
	}
	execs, err := s.store.ListExecutions(ctx)
	if err != nil {
		s.log.Warn("execution scan failed", logx.Err(err))
		return
	}

	for _, t := range task.FilterActive(tasks) {
		if t.NextRunAt == nil {
			refreshed := task.RefreshNextRunAt(t, now)
			if refreshed.NextRunAt == nil {
				// Invalid or unschedulable; leave it parked. Config
				// validation should have caught this, so say something.
				s.log.Warn("task has no computable next run",
					logx.String("code", t.Code), logx.String("expr", t.CronExpression))
				continue
			}
			if err := s.store.UpsertTask(ctx, refreshed); err != nil {
				s.log.Warn("task refresh failed", logx.String("code", t.Code), logx.Err(err))
			}
			continue
		}
		if t.NextRunAt.After(now) {
			continue
		}
		s.launch(ctx, t, execs, execution.TriggerSchedule, now)
	}

	s.reapStale(ctx, execs, now)
}

// launch creates a running execution for t and hands it to the pool.
func (s *Service) launch(ctx context.Context, t task.Task, execs []execution.Execution, trigger execution.Trigger, now time.Time) {
	if hasRunning(execs, taskRef(t)) {
		s.log.Debug("task skipped (previous run still active)", logx.String("code", t.Code))
		s.publish(eventbus.TypeExecutionSkipped, ExecutionEvent{TaskCode: t.Code, StartedAt: now})
		// Push the next-run pointer forward anyway so the skipped slot is
		// not re-dispatched every tick while the old run drags on.
		s.advanceNextRun(ctx, t, now)
		return
	}
	if !s.limiter.Allow() {
		// Backlog drain cap; the task stays due and the next tick retries.
		s.log.Debug("dispatch deferred by rate limit", logx.String("code", t.Code))
		return
	}

	exec := execution.New(taskRef(t), trigger)
	if err := s.store.SaveExecution(ctx, exec); err != nil {
		s.log.Warn("execution create failed", logx.String("code", t.Code), logx.Err(err))
		return
	}
	s.advanceNextRun(ctx, t, now)

	s.mu.Lock()
	queue := s.queue
	timeout := s.cfg.DefaultTimeout
	s.mu.Unlock()
	if queue == nil {
		return
	}

	d := dispatch{task: t, exec: exec, timeout: timeout}
	select {
	case queue <- d:
		s.publish(eventbus.TypeExecutionStarted, ExecutionEvent{
			ExecutionID: exec.ID, TaskCode: t.Code, StartedAt: exec.StartedAt,
		})
	default:
		s.dropped.Add(1)
		s.log.Warn("scheduler queue full; failing execution",
			logx.String("code", t.Code), logx.Int("queue_cap", cap(queue)))
		s.completeWith(ctx, d, execution.Result{
			Status:       execution.StatusFailed,
			ErrorMessage: ErrQueueFull.Error(),
		})
	}
}

// Trigger runs a task by code outside its schedule (operator action).
// The returned execution is the freshly created running record.
func (s *Service) Trigger(ctx context.Context, code string) (execution.Execution, error) {
	s.mu.Lock()
	queue := s.queue
	timeout := s.cfg.DefaultTimeout
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if !enabled {
		return execution.Execution{}, ErrDisabled
	}
	if queue == nil {
		return execution.Execution{}, ErrStopped
	}

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return execution.Execution{}, err
	}
	t, ok := task.FindByCode(tasks, code)
	if !ok {
		return execution.Execution{}, fmt.Errorf("%w: %s", ErrUnknownTask, code)
	}
	execs, err := s.store.ListExecutions(ctx)
	if err != nil {
		return execution.Execution{}, err
	}
	if hasRunning(execs, taskRef(t)) {
		return execution.Execution{}, fmt.Errorf("%w: %s", ErrOverlapSkip, code)
	}

	exec := execution.New(taskRef(t), execution.TriggerManual)
	if err := s.store.SaveExecution(ctx, exec); err != nil {
		return execution.Execution{}, err
	}

	select {
	case queue <- dispatch{task: t, exec: exec, timeout: timeout}:
		s.publish(eventbus.TypeExecutionStarted, ExecutionEvent{
			ExecutionID: exec.ID, TaskCode: t.Code, StartedAt: exec.StartedAt,
		})
		return exec, nil
	default:
		s.dropped.Add(1)
		s.completeWith(ctx, dispatch{task: t, exec: exec}, execution.Result{
			Status:       execution.StatusFailed,
			ErrorMessage: ErrQueueFull.Error(),
		})
		return execution.Execution{}, ErrQueueFull
	}
}

// advanceNextRun recomputes and persists the task's next-run time from now.
func (s *Service) advanceNextRun(ctx context.Context, t task.Task, now time.Time) {
	refreshed := task.RefreshNextRunAt(t, now)
	if err := s.store.UpsertTask(ctx, refreshed); err != nil {
		s.log.Warn("next-run update failed", logx.String("code", t.Code), logx.Err(err))
	}
}

// reapStale times out running records whose owner is gone (crashed process,
// earlier restart). In-flight runs of this process are exempt.
func (s *Service) reapStale(ctx context.Context, execs []execution.Execution, now time.Time) {
	s.mu.Lock()
	staleAfter := s.cfg.DefaultTimeout + 2*s.cfg.PollInterval
	s.mu.Unlock()

	for _, e := range execs {
		if e.Status != execution.StatusRunning {
			continue
		}
		if s.isInflight(e.ID) {
			continue
		}
		if now.Sub(e.StartedAt) <= staleAfter {
			continue
		}
		done, err := execution.Complete(e, execution.Result{
			Status:       execution.StatusTimeout,
			ErrorMessage: "marked timeout by stale-execution reaper",
		})
		if err != nil {
			continue
		}
		if err := s.store.SaveExecution(ctx, done); err != nil {
			s.log.Warn("stale reap failed", logx.String("execution", e.ID), logx.Err(err))
			continue
		}
		s.log.Warn("stale running execution timed out",
			logx.String("execution", e.ID), logx.String("task", e.TaskID),
			logx.Duration("age", now.Sub(e.StartedAt)))
		s.publish(eventbus.TypeExecutionTimeout, ExecutionEvent{
			ExecutionID: e.ID, TaskCode: e.TaskID, Status: execution.StatusTimeout, StartedAt: e.StartedAt,
		})
	}
}

// housekeeping prunes terminal executions past retention.
func (s *Service) housekeeping(ctx context.Context) {
	s.mu.Lock()
	days := s.cfg.RetentionDays
	s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := s.store.PruneExecutions(ctx, cutoff)
	if err != nil {
		s.log.Warn("execution prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("execution history pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	workers := s.cfg.Workers
	ql, qc := 0, 0
	if s.queue != nil {
		ql = len(s.queue)
		qc = cap(s.queue)
	}
	s.mu.Unlock()

	s.inflightMu.Lock()
	inflight := len(s.inflight)
	s.inflightMu.Unlock()

	return Snapshot{
		Enabled:  enabled,
		Workers:  workers,
		QueueLen: ql,
		QueueCap: qc,
		Dropped:  s.dropped.Load(),
		Inflight: inflight,
	}
}

func (s *Service) publish(typ string, ev ExecutionEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (s *Service) isInflight(id string) bool {
	s.inflightMu.Lock()
	_, ok := s.inflight[id]
	s.inflightMu.Unlock()
	return ok
}

func (s *Service) markInflight(id string) {
	s.inflightMu.Lock()
	s.inflight[id] = struct{}{}
	s.inflightMu.Unlock()
}

func (s *Service) unmarkInflight(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// taskRef is the execution→task foreign key: the task ID when present,
// otherwise the code (tasks seeded before IDs existed).
func taskRef(t task.Task) string {
	if t.ID != "" {
		return t.ID
	}
	return t.Code
}

func hasRunning(execs []execution.Execution, taskRef string) bool {
	for _, e := range execs {
		if e.TaskID == taskRef && e.Status == execution.StatusRunning {
			return true
		}
	}
	return false
}
