package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
)

// Enqueue inserts a new pending row. Always succeeds absent a storage fault.
func (s *Store) Enqueue(ctx context.Context, rec EnqueueRecord) (int64, error) {
	var id int64
	err := dbutil.RetryOnBusy(ctx, 5, func() error {
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO queued_messages (
				chat_id, platform_msg_id, sender_id, sender_name, content,
				channel_id, thread_id, timestamp, status, attempt_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0);
		`, rec.ChatID, rec.PlatformMsgID, rec.SenderID, rec.SenderName, rec.Content,
			rec.ChannelID, rec.ThreadID, ts)
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ClaimBatch finds the oldest pending row for chatID, computes a window
// cutoff from it, and atomically claims every pending row within that
// window (up to maxBatch), marking them processing.
func (s *Store) ClaimBatch(ctx context.Context, chatID string, window time.Duration, maxBatch int) ([]Message, error) {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	var out []Message
	err := dbutil.RetryOnBusy(ctx, 5, func() error {
		out = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim batch tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var oldestCreated time.Time
		err = tx.QueryRowContext(ctx, `
			SELECT created_at FROM queued_messages
			WHERE chat_id = ? AND status = 'pending'
			ORDER BY created_at ASC, id ASC LIMIT 1;
		`, chatID).Scan(&oldestCreated)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find oldest pending: %w", err)
		}
		cutoff := oldestCreated.Add(window)

		rows, err := tx.QueryContext(ctx, `
			SELECT id, chat_id, platform_msg_id, sender_id, sender_name, content,
				channel_id, thread_id, timestamp, status, attempt_count,
				created_at, started_at, completed_at, last_error
			FROM queued_messages
			WHERE chat_id = ? AND status = 'pending' AND created_at <= ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?;
		`, chatID, cutoff, maxBatch)
		if err != nil {
			return fmt.Errorf("select claimable: %w", err)
		}
		var ids []int64
		var msgs []Message
		for rows.Next() {
			var m Message
			if err := scanMessage(rows.Scan, &m); err != nil {
				rows.Close()
				return fmt.Errorf("scan claimable: %w", err)
			}
			ids = append(ids, m.ID)
			msgs = append(msgs, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("claimable rows: %w", err)
		}
		rows.Close()
		if len(ids) == 0 {
			return nil
		}

		now := time.Now().UTC()
		for i := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE queued_messages
				SET status = 'processing', started_at = ?, attempt_count = attempt_count + 1
				WHERE id = ? AND status = 'pending';
			`, now, ids[i]); err != nil {
				return fmt.Errorf("claim row %d: %w", ids[i], err)
			}
			msgs[i].Status = StatusProcessing
			msgs[i].StartedAt = &now
			msgs[i].AttemptCount++
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim batch: %w", err)
		}
		out = msgs
		return nil
	})
	return out, err
}

// Complete transitions the given ids from processing to completed. Rows not
// currently processing are left untouched (idempotent).
func (s *Store) Complete(ctx context.Context, ids []int64) error {
	return s.terminalTransition(ctx, ids, StatusCompleted, "")
}

// Fail transitions the given ids from processing to failed, recording err.
func (s *Store) Fail(ctx context.Context, ids []int64, errMsg string) error {
	return s.terminalTransition(ctx, ids, StatusFailed, errMsg)
}

func (s *Store) terminalTransition(ctx context.Context, ids []int64, status Status, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	return dbutil.RetryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin terminal transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE queued_messages
				SET status = ?, completed_at = CURRENT_TIMESTAMP, last_error = ?
				WHERE id = ? AND status = 'processing';
			`, string(status), errMsg, id); err != nil {
				return fmt.Errorf("transition row %d: %w", id, err)
			}
		}
		return tx.Commit()
	})
}

// Requeue reverts processing rows back to pending, preserving attempt_count.
func (s *Store) Requeue(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	return dbutil.RetryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin requeue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE queued_messages
				SET status = 'pending', started_at = NULL, completed_at = NULL, last_error = ?
				WHERE id = ? AND status = 'processing';
			`, errMsg, id); err != nil {
				return fmt.Errorf("requeue row %d: %w", id, err)
			}
		}
		return tx.Commit()
	})
}

// ResetStalled reverts processing rows whose started_at predates the
// threshold back to pending. Called with StartupStallThreshold once at
// boot and with RoutineStallThreshold on the maintenance cadence.
func (s *Store) ResetStalled(ctx context.Context, olderThan time.Duration) (int64, error) {
	var affected int64
	err := dbutil.RetryOnBusy(ctx, 5, func() error {
		cutoff := time.Now().UTC().Add(-olderThan)
		res, err := s.db.ExecContext(ctx, `
			UPDATE queued_messages
			SET status = 'pending', started_at = NULL
			WHERE status = 'processing' AND started_at <= ?;
		`, cutoff)
		if err != nil {
			return fmt.Errorf("reset stalled: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// ChatsWithPending returns the distinct chat ids holding at least one
// pending row, used to reseed drains on startup and after sleep/wake.
func (s *Store) ChatsWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT chat_id FROM queued_messages WHERE status = 'pending';
	`)
	if err != nil {
		return nil, fmt.Errorf("chats with pending: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		out = append(out, chatID)
	}
	return out, rows.Err()
}

func scanMessage(scan func(dest ...any) error, m *Message) error {
	var (
		startedAt, completedAt sql.NullTime
		status                 string
	)
	if err := scan(
		&m.ID, &m.ChatID, &m.PlatformMsgID, &m.SenderID, &m.SenderName, &m.Content,
		&m.ChannelID, &m.ThreadID, &m.Timestamp, &status, &m.AttemptCount,
		&m.CreatedAt, &startedAt, &completedAt, &m.LastError,
	); err != nil {
		return err
	}
	m.Status = Status(status)
	if startedAt.Valid {
		t := startedAt.Time
		m.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		m.CompletedAt = &t
	}
	return nil
}
