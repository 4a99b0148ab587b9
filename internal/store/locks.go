package store

import (
	"fmt"
	"time"
)

// AcquireLock tries to take the execution lock for lockKey on behalf of
// taskID. INSERT OR IGNORE is the CAS arbiter: RowsAffected()==1 means this
// task now holds the lock; 0 means some other task holds it.
func (s *Store) AcquireLock(lockKey, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO execution_locks (lock_key, task_id, acquired_at)
		VALUES (?, ?, ?)`,
		lockKey, taskID, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	return n == 1, nil
}

// ReleaseLock drops the execution lock for lockKey if it's still held by taskID.
func (s *Store) ReleaseLock(lockKey, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM execution_locks WHERE lock_key = ? AND task_id = ?`, lockKey, taskID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lockKey, err)
	}
	return nil
}

// ReleaseLocksForTerminalTasks is the manual maintenance routine referenced
// by spec.md §7: a crashed worker leaves its lock held forever, since
// nothing clears it automatically (Open Question 2). It releases locks whose
// owning task has already reached a terminal status; no code path in
// slackclaw, including the CLI, calls it.
func (s *Store) ReleaseLocksForTerminalTasks() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM execution_locks
		WHERE task_id IN (
			SELECT id FROM tasks WHERE status IN (?, ?, ?, ?)
		)`,
		StatusSucceeded, StatusFailed, StatusCanceled, StatusAbortedOnRestart,
	)
	if err != nil {
		return 0, fmt.Errorf("release locks for terminal tasks: %w", err)
	}
	return res.RowsAffected()
}
