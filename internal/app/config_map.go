package app

import (
	"fmt"
	"strings"
	"time"

	"taskpulse/internal/config"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cfg.Storage.Path)

	switch driver {
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	sc := cfg.Scheduler

	poll, err := config.ParseDurationField("scheduler.poll_interval", sc.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if sc.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	if sc.QueueSize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.queue_size must be >= 0")
	}
	if sc.RetentionDays < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.retention_days must be >= 0")
	}

	return scheduler.Config{
		Enabled:          sc.Enabled,
		Workers:          sc.Workers,
		QueueSize:        sc.QueueSize,
		PollInterval:     poll,
		DefaultTimeout:   timeout,
		DispatchPerSec:   sc.DispatchPerSec,
		RetryFailed:      sc.RetryFailed,
		RetentionDays:    sc.RetentionDays,
		HousekeepingSpec: sc.HousekeepingSpec,
	}, nil
}
