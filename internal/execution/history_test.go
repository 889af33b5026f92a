package execution

import (
	"testing"
	"time"
)

func historyFixture() []Execution {
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id string, offset time.Duration, st Status, tr Trigger) Execution {
		e := NewAt("t1", tr, base.Add(offset))
		e.ID = id
		if st.Terminal() {
			done, err := Complete(e, Result{Status: st})
			if err != nil {
				panic(err)
			}
			return done
		}
		return e
	}
	return []Execution{
		mk("a", 0, StatusCompleted, TriggerSchedule),
		mk("b", time.Hour, StatusFailed, TriggerSchedule),
		mk("c", 2*time.Hour, StatusCompleted, TriggerManual),
		mk("d", 3*time.Hour, StatusTimeout, TriggerSchedule),
		mk("e", 4*time.Hour, StatusRunning, TriggerRetry),
	}
}

func ids(execs []Execution) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilterSortsDescending(t *testing.T) {
	t.Parallel()
	got := Filter(historyFixture(), Query{})
	if !equalIDs(ids(got), []string{"e", "d", "c", "b", "a"}) {
		t.Fatalf("order = %v, want most recent first", ids(got))
	}
}

func TestFilterByStatus(t *testing.T) {
	t.Parallel()
	st := StatusCompleted
	got := Filter(historyFixture(), Query{Status: &st})
	if !equalIDs(ids(got), []string{"c", "a"}) {
		t.Fatalf("completed = %v, want [c a]", ids(got))
	}
	for _, e := range got {
		if e.Status != StatusCompleted {
			t.Fatalf("entry %s has status %s", e.ID, e.Status)
		}
	}
}

func TestFilterByTriggerAndRange(t *testing.T) {
	t.Parallel()
	tr := TriggerSchedule
	since := time.Date(2024, 4, 1, 1, 0, 0, 0, time.UTC) // inclusive: keeps "b"
	until := time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC) // inclusive: keeps "d"
	got := Filter(historyFixture(), Query{TriggeredBy: &tr, Since: &since, Until: &until})
	if !equalIDs(ids(got), []string{"d", "b"}) {
		t.Fatalf("filtered = %v, want [d b]", ids(got))
	}
}

func TestFilterPagination(t *testing.T) {
	t.Parallel()
	fixture := historyFixture()

	got := Filter(fixture, Query{Offset: 1, Limit: 2})
	if !equalIDs(ids(got), []string{"d", "c"}) {
		t.Fatalf("page = %v, want [d c]", ids(got))
	}

	if got := Filter(fixture, Query{Offset: 99}); len(got) != 0 {
		t.Fatalf("offset past end: %v, want empty", ids(got))
	}

	// Zero values mean unbounded.
	if got := Filter(fixture, Query{}); len(got) != len(fixture) {
		t.Fatalf("unbounded query returned %d of %d", len(got), len(fixture))
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	fixture := historyFixture()
	before := ids(fixture)
	_ = Filter(fixture, Query{Limit: 1})
	if !equalIDs(ids(fixture), before) {
		t.Fatalf("input order changed: %v", ids(fixture))
	}
}
