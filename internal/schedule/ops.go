package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Create validates and inserts a new task, rejecting an invalid schedule
// immediately with a descriptive error rather than scheduling something
// that can never fire.
func (s *Store) Create(ctx context.Context, t Task) (string, error) {
	if err := ValidateSchedule(t); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	if t.ContextMode == "" {
		t.ContextMode = ContextModeIsolated
	}

	var nextRun *time.Time
	if t.Kind == KindOnce {
		nextRun = t.NextRunAt
	} else {
		var err error
		nextRun, err = NextRun(t, time.Now())
		if err != nil {
			return "", err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks
			(id, group_folder, session_id, context_mode, kind, cron_expr, interval_ms, timezone, prompt, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, t.ID, t.Group, t.SessionID, string(t.ContextMode), string(t.Kind), t.CronExpr, t.IntervalMs, t.Timezone, t.Prompt, string(t.Status), nextRun)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// ClaimDue selects active, due tasks and stamps them with running_since so
// a concurrent scheduler instance won't claim the same task. A task whose
// lease (running_since) is older than staleLease is treated as abandoned
// (the prior claimant crashed mid-run) and reclaimed.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, staleLease time.Duration) ([]Task, error) {
	if staleLease <= 0 {
		staleLease = StaleLeaseThreshold
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	staleCutoff := now.Add(-staleLease)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, group_folder, session_id, context_mode, kind, cron_expr, interval_ms, timezone, prompt,
		       status, next_run_at, running_since, last_run_at, retry_count, last_error,
		       created_at, updated_at
		FROM scheduled_tasks
		WHERE status = 'active'
		  AND next_run_at IS NOT NULL AND next_run_at <= ?
		  AND (running_since IS NULL OR running_since <= ?);
	`, now, staleCutoff)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	var due []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, t := range due {
		if _, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET running_since = ?, updated_at = ? WHERE id = ?;`, now, now, t.ID); err != nil {
			return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return due, nil
}

// Complete records a successful run: retry_count resets, the lease clears,
// and next_run_at advances per the task's kind (or the task completes, for
// a once-task). newSessionID is the session token the run returned, if any;
// per spec.md §4.6 it is only persisted back onto the task when the task's
// context_mode is "group" — an "isolated" task always starts its next run
// fresh.
func (s *Store) Complete(ctx context.Context, id string, ranAt time.Time, newSessionID string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	next, err := NextRun(t, ranAt)
	if err != nil {
		return err
	}
	status := t.Status
	if t.Kind == KindOnce {
		status = StatusCompleted
	}
	sessionID := t.SessionID
	if t.ContextMode == ContextModeGroup && newSessionID != "" {
		sessionID = newSessionID
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = ?, session_id = ?, next_run_at = ?, running_since = NULL, last_run_at = ?,
		    retry_count = 0, last_error = '', updated_at = ?
		WHERE id = ?;
	`, string(status), sessionID, next, ranAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	return nil
}

// Fail records a failed run, applying exponential backoff to the next
// attempt. After maxRetries consecutive failures the task is quarantined
// to paused so it stops consuming dispatch capacity.
func (s *Store) Fail(ctx context.Context, id string, errMsg string, maxRetries int, baseMs, maxMs int64) error {
	if maxRetries <= 0 {
		maxRetries = DefaultTaskMaxRetries
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	retryCount := t.RetryCount + 1
	now := time.Now()

	if retryCount >= maxRetries {
		_, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_tasks
			SET status = 'paused', running_since = NULL, retry_count = ?, last_error = ?, updated_at = ?
			WHERE id = ?;
		`, retryCount, errMsg, now, id)
		if err != nil {
			return fmt.Errorf("quarantine task %s: %w", id, err)
		}
		return nil
	}

	next := now.Add(RetryDelay(retryCount-1, baseMs, maxMs))
	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET next_run_at = ?, running_since = NULL, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?;
	`, next, retryCount, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("reschedule task %s after failure: %w", id, err)
	}
	return nil
}

// Pause, Resume, Cancel, and RunNow are operator-facing lifecycle controls.

func (s *Store) Pause(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET status = 'paused', updated_at = ? WHERE id = ?;`, time.Now(), id)
	return err
}

func (s *Store) Resume(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	next, err := NextRun(t, time.Now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET status = 'active', next_run_at = ?, retry_count = 0, updated_at = ? WHERE id = ?;`, next, time.Now(), id)
	return err
}

// Cancel transitions a task to the deleted status rather than removing its
// row, preserving its run history for the any-state-to-deleted lifecycle
// spec.md §3 requires.
func (s *Store) Cancel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET status = 'deleted', running_since = NULL, updated_at = ? WHERE id = ?;`, time.Now(), id)
	return err
}

// RunNow force-schedules an immediate run without disturbing the task's
// ordinary recurrence once it completes.
func (s *Store) RunNow(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET next_run_at = ?, updated_at = ? WHERE id = ? AND status = 'active';`, now, now, id)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_folder, session_id, context_mode, kind, cron_expr, interval_ms, timezone, prompt,
		       status, next_run_at, running_since, last_run_at, retry_count, last_error,
		       created_at, updated_at
		FROM scheduled_tasks WHERE id = ?;
	`, id)
	return scanTask(row)
}

// ListByGroup returns every non-deleted task for group, oldest first.
// Cancelled tasks are soft-deleted (see Cancel) and excluded here, matching
// the prior hard-delete behavior from a listing caller's perspective.
func (s *Store) ListByGroup(ctx context.Context, group string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_folder, session_id, context_mode, kind, cron_expr, interval_ms, timezone, prompt,
		       status, next_run_at, running_since, last_run_at, retry_count, last_error,
		       created_at, updated_at
		FROM scheduled_tasks WHERE group_folder = ? AND status != 'deleted' ORDER BY created_at;
	`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var kind, status, contextMode string
	var nextRunAt, runningSince, lastRunAt sql.NullTime
	var sessionID, cronExpr, timezone, lastError sql.NullString
	err := row.Scan(
		&t.ID, &t.Group, &sessionID, &contextMode, &kind, &cronExpr, &t.IntervalMs, &timezone, &t.Prompt,
		&status, &nextRunAt, &runningSince, &lastRunAt, &t.RetryCount, &lastError,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, fmt.Errorf("schedule: task not found")
		}
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.ContextMode = ContextMode(contextMode)
	t.SessionID = sessionID.String
	t.CronExpr = cronExpr.String
	t.Timezone = timezone.String
	t.LastError = lastError.String
	if nextRunAt.Valid {
		v := nextRunAt.Time
		t.NextRunAt = &v
	}
	if runningSince.Valid {
		v := runningSince.Time
		t.RunningSince = &v
	}
	if lastRunAt.Valid {
		v := lastRunAt.Time
		t.LastRunAt = &v
	}
	return t, nil
}
