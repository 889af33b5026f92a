package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskpulse/internal/execution"
	"taskpulse/internal/task"
	logx "taskpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertTask(ctx context.Context, t task.Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(code, id, name, cron_expression, timezone, is_active,
		                   next_run_at, last_run_at, last_run_status, last_run_duration_ms,
		                   created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(code) DO UPDATE SET
		   id=excluded.id, name=excluded.name, cron_expression=excluded.cron_expression,
		   timezone=excluded.timezone, is_active=excluded.is_active,
		   next_run_at=excluded.next_run_at, last_run_at=excluded.last_run_at,
		   last_run_status=excluded.last_run_status, last_run_duration_ms=excluded.last_run_duration_ms,
		   updated_at=excluded.updated_at`,
		t.Code, t.ID, nullStr(t.Name), t.CronExpression, t.Timezone, boolInt(t.IsActive),
		nullMilli(t.NextRunAt), nullMilli(t.LastRunAt), nullStr(string(t.LastRunStatus)), nullI64(t.LastRunDurationMS),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([]task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, id, name, cron_expression, timezone, is_active,
		        next_run_at, last_run_at, last_run_status, last_run_duration_ms,
		        created_at, updated_at
		   FROM tasks ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var (
			t                    task.Task
			name, lastStatus     sql.NullString
			active               int
			nextRun, lastRun     sql.NullInt64
			lastDur              sql.NullInt64
			createdMS, updatedMS int64
		)
		if err := rows.Scan(&t.Code, &t.ID, &name, &t.CronExpression, &t.Timezone, &active,
			&nextRun, &lastRun, &lastStatus, &lastDur, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		t.Name = name.String
		t.IsActive = active != 0
		t.NextRunAt = milliPtr(nextRun)
		t.LastRunAt = milliPtr(lastRun)
		t.LastRunStatus = execution.Status(lastStatus.String)
		if lastDur.Valid {
			v := lastDur.Int64
			t.LastRunDurationMS = &v
		}
		t.CreatedAt = time.UnixMilli(createdMS)
		t.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveExecution(ctx context.Context, e execution.Execution) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, task_id, started_at, completed_at, status, triggered_by,
		                        execution_time_ms, records_processed, result_summary, error_message)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   completed_at=excluded.completed_at, status=excluded.status,
		   execution_time_ms=excluded.execution_time_ms, records_processed=excluded.records_processed,
		   result_summary=excluded.result_summary, error_message=excluded.error_message`,
		e.ID, e.TaskID, e.StartedAt.UnixMilli(), nullMilli(e.CompletedAt), string(e.Status), string(e.TriggeredBy),
		nullI64(e.ExecutionTimeMS), nullI64(e.RecordsProcessed), nullStr(e.ResultSummary), nullStr(e.ErrorMessage),
	)
	return err
}

func (s *sqliteStore) ListExecutions(ctx context.Context) ([]execution.Execution, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, started_at, completed_at, status, triggered_by,
		        execution_time_ms, records_processed, result_summary, error_message
		   FROM executions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []execution.Execution
	for rows.Next() {
		var (
			e                 execution.Execution
			startedMS         int64
			completed         sql.NullInt64
			status, triggered string
			execMS, records   sql.NullInt64
			summary, errMsg   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &startedMS, &completed, &status, &triggered,
			&execMS, &records, &summary, &errMsg); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(startedMS)
		e.CompletedAt = milliPtr(completed)
		e.Status = execution.Status(status)
		e.TriggeredBy = execution.Trigger(triggered)
		if execMS.Valid {
			v := execMS.Int64
			e.ExecutionTimeMS = &v
		}
		if records.Valid {
			v := records.Int64
			e.RecordsProcessed = &v
		}
		e.ResultSummary = summary.String
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE started_at < ? AND status != ?`,
		before.UnixMilli(), string(execution.StatusRunning),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullI64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func milliPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
