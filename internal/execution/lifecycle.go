package execution

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition reports an attempt to move an execution along an
	// edge the state machine does not have (anything but running → terminal).
	ErrInvalidTransition = errors.New("execution: invalid status transition")

	// ErrCompletedBeforeStart reports a completion instant earlier than the
	// execution's start.
	ErrCompletedBeforeStart = errors.New("execution: completed before started")
)

// completenessTolerance absorbs timer/rounding jitter when cross-checking
// execution_time_ms against the recorded timestamps.
const completenessTolerance = time.Second

// ValidTransition reports whether current → next is a legal status change.
// The only legal edges are running → completed/failed/timeout; terminal
// states have no outgoing edges and running → running is not a transition.
func ValidTransition(current, next Status) bool {
	return current == StatusRunning && next.Terminal()
}

// Result carries the terminal outcome applied by Complete.
//
// CompletedAt defaults to now when nil. ExecutionTimeMS, when set, overrides
// the derived duration (used by importers replaying externally-timed runs).
type Result struct {
	Status           Status
	CompletedAt      *time.Time
	ExecutionTimeMS  *int64
	RecordsProcessed *int64
	ResultSummary    string
	ErrorMessage     string
}

// Complete terminates a running execution and derives its timing fields.
//
// The transition is enforced, not advisory: completing an already-terminal
// record or passing a non-terminal status returns ErrInvalidTransition and
// leaves the input untouched. The input is never mutated either way.
func Complete(e Execution, r Result) (Execution, error) {
	if !ValidTransition(e.Status, r.Status) {
		return Execution{}, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, e.Status, r.Status)
	}

	completedAt := time.Now()
	if r.CompletedAt != nil {
		completedAt = *r.CompletedAt
	}
	if completedAt.Before(e.StartedAt) {
		return Execution{}, fmt.Errorf("%w: started %s, completed %s",
			ErrCompletedBeforeStart, e.StartedAt.Format(time.RFC3339Nano), completedAt.Format(time.RFC3339Nano))
	}

	ms := completedAt.Sub(e.StartedAt).Milliseconds()
	if r.ExecutionTimeMS != nil {
		ms = *r.ExecutionTimeMS
	}

	out := e
	out.Status = r.Status
	out.CompletedAt = &completedAt
	out.ExecutionTimeMS = &ms
	out.RecordsProcessed = r.RecordsProcessed
	out.ResultSummary = r.ResultSummary
	out.ErrorMessage = r.ErrorMessage
	return out, nil
}

// IsComplete reports whether the record is structurally sound: identity and
// start fields present, status known, and — for terminal records — both
// completion fields set and consistent with the timestamps within tolerance.
// Running records must not carry completion fields.
//
// A false result is a data-quality signal for persisted rows, not an error.
func IsComplete(e Execution) bool {
	if e.ID == "" || e.TaskID == "" || e.StartedAt.IsZero() {
		return false
	}
	if !e.Status.Known() || !e.TriggeredBy.Known() {
		return false
	}

	if e.Status == StatusRunning {
		return e.CompletedAt == nil && e.ExecutionTimeMS == nil
	}

	if e.CompletedAt == nil || e.ExecutionTimeMS == nil {
		return false
	}
	if e.CompletedAt.Before(e.StartedAt) {
		return false
	}

	derived := e.CompletedAt.Sub(e.StartedAt).Milliseconds()
	diff := derived - *e.ExecutionTimeMS
	if diff < 0 {
		diff = -diff
	}
	return diff <= completenessTolerance.Milliseconds()
}
