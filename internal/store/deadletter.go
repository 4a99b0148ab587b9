package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReportDeadLetter is a Reporter post that failed and is queued for retry
// rather than only logged — spec.md §4.8 requires a report_failed log on
// failure; this adds durable retry on top without changing task semantics
// (a Reporter failure never fails the task itself).
type ReportDeadLetter struct {
	ID            string
	TaskID        string
	ChannelID     string
	ThreadTS      string
	Text          string
	Attempts      int
	LastError     string
	CreatedAt     int64
	NextAttemptAt int64
}

// SaveReportDeadLetter persists a failed report for later retry.
func (s *Store) SaveReportDeadLetter(dl *ReportDeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dl.CreatedAt == 0 {
		dl.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO report_dead_letters (
			id, task_id, channel_id, thread_ts, text,
			attempts, last_error, created_at, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.TaskID, dl.ChannelID, dl.ThreadTS, dl.Text,
		dl.Attempts, dl.LastError, dl.CreatedAt, dl.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("save report dead letter %s: %w", dl.ID, err)
	}
	return nil
}

// ListDueReportDeadLetters returns entries whose next_attempt_at has passed.
func (s *Store) ListDueReportDeadLetters(limit int) ([]*ReportDeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, task_id, channel_id, thread_ts, text, attempts, last_error,
			created_at, next_attempt_at
		FROM report_dead_letters WHERE next_attempt_at <= ?
		ORDER BY next_attempt_at ASC LIMIT ?`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due report dead letters: %w", err)
	}
	defer rows.Close()

	var out []*ReportDeadLetter
	for rows.Next() {
		dl := &ReportDeadLetter{}
		var lastErr sql.NullString
		if err := rows.Scan(&dl.ID, &dl.TaskID, &dl.ChannelID, &dl.ThreadTS, &dl.Text,
			&dl.Attempts, &lastErr, &dl.CreatedAt, &dl.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("scan report dead letter: %w", err)
		}
		dl.LastError = lastErr.String
		out = append(out, dl)
	}
	return out, rows.Err()
}

// IncrementReportDeadLetterAttempt records a failed retry and schedules the next one.
func (s *Store) IncrementReportDeadLetterAttempt(id, lastError string, nextAttemptAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE report_dead_letters
		SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ?`, lastError, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("increment report dead letter %s: %w", id, err)
	}
	return nil
}

// ResolveReportDeadLetter removes a dead letter once it posts successfully.
func (s *Store) ResolveReportDeadLetter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM report_dead_letters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve report dead letter %s: %w", id, err)
	}
	return nil
}
