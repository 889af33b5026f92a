package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskpulse/internal/config"
	"taskpulse/internal/storage"
	"taskpulse/internal/task"
	logx "taskpulse/pkg/logx"
)

// SeedTasks upserts the declared tasks into the store.
//
// Tasks are keyed by code: an existing row keeps its identity, creation time
// and run bookkeeping, and only the declared fields (name, schedule,
// timezone, active) are replaced. Tasks in the store but absent from the
// config are left alone.
func SeedTasks(ctx context.Context, store storage.Store, declared []config.TaskConfig, log logx.Logger) error {
	if len(declared) == 0 {
		return nil
	}
	existing, err := store.ListTasks(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, tc := range declared {
		t, found := task.FindByCode(existing, tc.Code)
		if !found {
			t = task.Task{
				ID:        uuid.NewString(),
				Code:      tc.Code,
				CreatedAt: now,
			}
		}

		changed := !found ||
			t.Name != seedName(tc) ||
			t.CronExpression != tc.Schedule ||
			t.Timezone != tc.Timezone ||
			t.IsActive != tc.IsActive()
		if !changed {
			continue
		}

		t.Name = seedName(tc)
		t.CronExpression = tc.Schedule
		t.Timezone = tc.Timezone
		t.IsActive = tc.IsActive()
		t.UpdatedAt = now
		t = task.RefreshNextRunAt(t, now)

		if err := store.UpsertTask(ctx, t); err != nil {
			return err
		}
		if found {
			log.Info("task updated", logx.String("code", t.Code), logx.String("schedule", t.CronExpression))
		} else {
			log.Info("task registered", logx.String("code", t.Code), logx.String("schedule", t.CronExpression))
		}
	}
	return nil
}

func seedName(tc config.TaskConfig) string {
	if tc.Name != "" {
		return tc.Name
	}
	return tc.Code
}
