// Package app wires config, logging, storage and the scheduler into one
// process lifecycle with transactional hot reload.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskpulse/internal/config"
	"taskpulse/internal/eventbus"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// StopReason records why the process is shutting down, for the final log line.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sched *scheduler.Service

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	var store storage.Store
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
	}, nil
}

// Scheduler exposes the scheduler for job registration and manual triggers.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Logger exposes the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Store exposes the persistence layer (nil when storage is disabled).
func (a *App) Store() storage.Store { return a.store }

// Bus exposes the execution event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		// Validate() already ran in Parse; here we reject reloads that
		// map to nonsense runtime settings before they are committed.
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	cfg := a.cfgm.Get()

	// Seed declared tasks before the scheduler first polls.
	if a.store != nil {
		if err := SeedTasks(a.runCtx, a.store, cfg.Tasks, a.log); err != nil {
			return fmt.Errorf("seed tasks: %w", err)
		}
	}

	if a.sched.Enabled() {
		a.sched.Start(a.runCtx)
	} else {
		a.log.Info("scheduler disabled by config")
	}

	// Debug-level event tap; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-a.runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-a.runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(a.runCtx, newCfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	// No-op outside systemd units.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the running services.
// Storage driver changes require a restart and only produce a warning.
func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if sc, enabled, err := mapStorageConfig(cfg); err == nil {
		cur := a.store != nil
		if enabled != cur || (enabled && sc.Driver != "memory" && a.store != nil) {
			// Cheap heuristic; a false positive here costs one warning line.
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	prevEnabled := a.sched.Enabled()
	a.sched.Apply(schedCfg)

	switch {
	case prevEnabled && !schedCfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && schedCfg.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	if a.store != nil {
		if err := SeedTasks(ctx, a.store, cfg.Tasks, a.log); err != nil {
			a.log.Warn("task reseed failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", logx.String("path", a.cfgPath))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.runCancel == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.runCancel()

	// Bound each shutdown step so one stuck component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("storage", 2*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("background", 2*time.Second, func(c context.Context) error {
		done := make(chan struct{})
		go func() { a.wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
