package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Task statuses, matching spec.md §3's TaskStatus enum exactly.
const (
	StatusPending          = "pending"
	StatusWaitingApproval  = "waiting_approval"
	StatusRunning          = "running"
	StatusSucceeded        = "succeeded"
	StatusFailed           = "failed"
	StatusCanceled         = "canceled"
	StatusAbortedOnRestart = "aborted_on_restart"
)

// TerminalStatuses are the statuses a task never leaves.
var TerminalStatuses = map[string]struct{}{
	StatusSucceeded:        {},
	StatusFailed:           {},
	StatusCanceled:         {},
	StatusAbortedOnRestart: {},
}

// Task is a durable row in the tasks table.
type Task struct {
	ID          string
	Status      string
	ChannelID   string
	MessageTS   string
	ThreadTS    string
	UserID      string
	RawText     string
	CommandText string
	LockKey     string
	Source      string
	ImagePaths  string // newline-joined absolute paths, "" if none
	Summary     sql.NullString
	Details     sql.NullString
	Error       sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt sql.NullTime
}

// ErrCASConflict is returned when a conditional update's WHERE clause
// matched zero rows — the row moved since the caller last read it.
var ErrCASConflict = errors.New("store: compare-and-swap conflict")

// CreateTask inserts a new task in StatusPending. Callers dedup via
// ProcessedMessages before calling this.
func (s *Store) CreateTask(t *Task) error {
	return s.CreateTaskWithStatus(t, StatusPending)
}

// CreateTaskWithStatus inserts a new task in the given initial status — used
// for tasks that must start in StatusWaitingApproval rather than pending.
func (s *Store) CreateTaskWithStatus(t *Task, status string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, status, channel_id, message_ts, thread_ts, user_id,
			raw_text, command_text, lock_key, source, image_paths, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, status, t.ChannelID, t.MessageTS, t.ThreadTS, t.UserID,
		t.RawText, t.CommandText, t.LockKey, t.Source, t.ImagePaths, now, now,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, status, channel_id, message_ts, thread_ts, user_id, raw_text,
			command_text, lock_key, source, image_paths, summary, details, error,
			created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	return scanTaskRow(row)
}

func scanTaskRow(row *sql.Row) (*Task, error) {
	var t Task
	var created, updated int64
	var completed sql.NullInt64
	err := row.Scan(&t.ID, &t.Status, &t.ChannelID, &t.MessageTS, &t.ThreadTS, &t.UserID,
		&t.RawText, &t.CommandText, &t.LockKey, &t.Source, &t.ImagePaths, &t.Summary, &t.Details, &t.Error,
		&created, &updated, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	if completed.Valid {
		t.CompletedAt = sql.NullTime{Time: time.Unix(completed.Int64, 0), Valid: true}
	}
	return &t, nil
}

// CASUpdateStatus transitions a task from fromStatus to toStatus only if its
// current status still equals fromStatus. Returns ErrCASConflict if another
// writer already moved the row.
func (s *Store) CASUpdateStatus(id, fromStatus, toStatus string) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		toStatus, time.Now().Unix(), id, fromStatus,
	)
	if err != nil {
		return fmt.Errorf("cas update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas update task %s: %w", id, err)
	}
	if n != 1 {
		return ErrCASConflict
	}
	return nil
}

// CompleteTask moves a running task to a terminal status, recording its
// summary/details/error and completed_at in one write.
func (s *Store) CompleteTask(id, toStatus, summary, details, taskErr string) error {
	now := time.Now().Unix()
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, summary = ?, details = ?, error = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		toStatus, summary, details, taskErr, now, now, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	if n != 1 {
		return ErrCASConflict
	}
	return nil
}

// ListPendingTasks returns all tasks still in StatusPending, oldest first,
// used to rehydrate the in-memory queue on startup.
func (s *Store) ListPendingTasks() ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, status, channel_id, message_ts, thread_ts, user_id, raw_text,
			command_text, lock_key, source, image_paths, summary, details, error,
			created_at, updated_at, completed_at
		FROM tasks WHERE status = ? ORDER BY created_at ASC`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var t Task
		var created, updated int64
		var completed sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Status, &t.ChannelID, &t.MessageTS, &t.ThreadTS, &t.UserID,
			&t.RawText, &t.CommandText, &t.LockKey, &t.Source, &t.ImagePaths, &t.Summary, &t.Details, &t.Error,
			&created, &updated, &completed); err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		t.CreatedAt = time.Unix(created, 0)
		t.UpdatedAt = time.Unix(updated, 0)
		if completed.Valid {
			t.CompletedAt = sql.NullTime{Time: time.Unix(completed.Int64, 0), Valid: true}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AbortRunningTasks marks every task still StatusRunning as
// StatusAbortedOnRestart. Called once at startup before the orchestrator
// begins its first cycle, since a running subprocess cannot have survived
// a process restart.
func (s *Store) AbortRunningTasks() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?`,
		StatusAbortedOnRestart, time.Now().Unix(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("abort running tasks: %w", err)
	}
	return res.RowsAffected()
}
