// Package task defines scheduled task records and the pure registry
// operations over a snapshot of them.
//
// Registry operations never fail and never mutate their inputs; bad data
// degrades to empty results or nil fields. Callers own storage and pass
// snapshots explicitly — there is no process-wide task list.
package task

import (
	"time"

	"taskpulse/pkg/cronexpr"
)

// FilterActive returns only tasks participating in scheduling.
func FilterActive(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out
}

// FindByCode returns the first task with the given code.
func FindByCode(tasks []Task, code string) (Task, bool) {
	for _, t := range tasks {
		if t.Code == code {
			return t, true
		}
	}
	return Task{}, false
}

// CodesUnique reports whether no two tasks share a code.
//
// A duplicate is detectable here but not auto-resolved; fixing it is an
// administration-layer concern.
func CodesUnique(tasks []Task) bool {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.Code]; dup {
			return false
		}
		seen[t.Code] = struct{}{}
	}
	return true
}

// RefreshNextRun recomputes NextRunAt from the task's own expression and
// timezone, relative to now.
func RefreshNextRun(t Task) Task {
	return RefreshNextRunAt(t, time.Now())
}

// RefreshNextRunAt is RefreshNextRun with an explicit reference instant.
//
// An invalid expression, an unschedulable one, or an unloadable timezone all
// clear NextRunAt: a task that cannot be scheduled reliably must never fire
// in a fallback zone by accident.
func RefreshNextRunAt(t Task, from time.Time) Task {
	out := t
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		out.NextRunAt = nil
		return out
	}
	next, err := cronexpr.Next(t.CronExpression, loc, from)
	if err != nil {
		out.NextRunAt = nil
		return out
	}
	out.NextRunAt = &next
	return out
}
