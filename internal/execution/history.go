package execution

import (
	"sort"
	"time"
)

// Query filters the execution history.
//
// Nil/zero fields mean "no constraint": Limit <= 0 is unbounded, Offset <= 0
// skips nothing. Since/Until bound StartedAt inclusively on both ends.
type Query struct {
	Status      *Status
	TriggeredBy *Trigger
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// Filter applies the query's predicates conjunctively, sorts the survivors by
// StartedAt descending (most recent first — a guarantee callers rely on for
// "latest run" lookups), then applies offset and limit.
//
// The input slice is never mutated; the result is a fresh slice.
func Filter(execs []Execution, q Query) []Execution {
	out := make([]Execution, 0, len(execs))
	for _, e := range execs {
		if q.Status != nil && e.Status != *q.Status {
			continue
		}
		if q.TriggeredBy != nil && e.TriggeredBy != *q.TriggeredBy {
			continue
		}
		if q.Since != nil && e.StartedAt.Before(*q.Since) {
			continue
		}
		if q.Until != nil && e.StartedAt.After(*q.Until) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return out[:0]
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
