package config

import (
	"fmt"
	"time"

	"taskpulse/internal/task"
	"taskpulse/pkg/cronexpr"
)

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Tasks seeds the task registry. Entries are upserted by code at startup
	// and on config reload; tasks absent from the file are left untouched
	// (deactivate them explicitly rather than deleting the entry).
	Tasks []TaskConfig `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskpulse.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the polling/dispatch loop.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - poll_interval: "30s"
//   - default_timeout: "5m"
//   - dispatch_per_sec: 10
//   - retention_days: 90
//   - housekeeping_spec: "0 3 * * *"
type SchedulerConfig struct {
	Enabled   bool `json:"enabled"`
	Workers   int  `json:"workers,omitempty"`
	QueueSize int  `json:"queue_size,omitempty"`

	PollInterval   string `json:"poll_interval,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// DispatchPerSec caps how many executions may be dispatched per second
	// when a backlog of due tasks is drained after downtime.
	DispatchPerSec int `json:"dispatch_per_sec,omitempty"`

	// RetryFailed re-runs a failed scheduled execution once (trigger "retry").
	RetryFailed bool `json:"retry_failed,omitempty"`

	RetentionDays    int    `json:"retention_days,omitempty"`
	HousekeepingSpec string `json:"housekeeping_spec,omitempty"`
}

// TaskConfig declares one schedulable task.
type TaskConfig struct {
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ; default "UTC"

	// Active is a pointer so we can distinguish "omitted" (default true)
	// from an explicit false.
	Active *bool `json:"active,omitempty"`
}

// Validate checks the whole config before it is committed/published.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if hk := c.Scheduler.HousekeepingSpec; hk != "" && !cronexpr.Validate(hk) {
		return fmt.Errorf("scheduler.housekeeping_spec: invalid cron expression %q", hk)
	}

	seen := map[string]struct{}{}
	for i, tc := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if !task.ValidCode(tc.Code) {
			return fmt.Errorf("%s.code: %q does not match ^[A-Z][A-Z0-9_]{2,29}$", path, tc.Code)
		}
		if _, dup := seen[tc.Code]; dup {
			return fmt.Errorf("%s.code: duplicate task code %q", path, tc.Code)
		}
		seen[tc.Code] = struct{}{}

		if !cronexpr.Validate(tc.Schedule) {
			return fmt.Errorf("%s.schedule: invalid cron expression %q", path, tc.Schedule)
		}
		if tz := tc.Timezone; tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("%s.timezone: %w", path, err)
			}
		}
	}
	return nil
}

// IsActive resolves the Active pointer (omitted means active).
func (tc TaskConfig) IsActive() bool {
	return tc.Active == nil || *tc.Active
}
