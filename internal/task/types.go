package task

import (
	"regexp"
	"time"

	"taskpulse/internal/execution"
)

// codePattern is enforced at the administration/config layer; the registry
// itself only requires uniqueness.
var codePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,29}$`)

// ValidCode reports whether code is an uppercase identifier of 3-30 chars
// starting with a letter.
func ValidCode(code string) bool { return codePattern.MatchString(code) }

// Task is a named, recurring unit of work.
//
// NextRunAt, LastRunAt, LastRunStatus and LastRunDurationMS are denormalized
// scheduling state: the registry recomputes NextRunAt, the scheduler writes
// the LastRun fields after each execution. They are never hand-edited.
type Task struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`

	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	IsActive       bool   `json:"is_active"`

	NextRunAt         *time.Time       `json:"next_run_at,omitempty"`
	LastRunAt         *time.Time       `json:"last_run_at,omitempty"`
	LastRunStatus     execution.Status `json:"last_run_status,omitempty"`
	LastRunDurationMS *int64           `json:"last_run_duration_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
