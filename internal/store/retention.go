package store

import (
	"context"
	"fmt"
	"time"
)

// RunRetention deletes rows that have aged past windowHours, keeping the
// database from growing unbounded. It is invoked on an hourly cadence from
// cmd/slackclaw, generalizing the teacher's retention sweep to this
// schema (tasks, processed_messages, approvals, thread_context,
// agent_sessions).
func (s *Store) RunRetention(ctx context.Context, windowHours int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour).Unix()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("delete old tasks: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE created_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("delete old processed messages: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM approvals WHERE resolved_at IS NOT NULL AND resolved_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("delete old approvals: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_context WHERE created_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("delete old thread context: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_sessions WHERE last_used_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("delete old agent sessions: %w", err)
	}

	return nil
}

// DBSizeBytes returns the database size in bytes, exposed for operational
// visibility alongside the health checker.
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("get page size: %w", err)
	}
	return pageCount * pageSize, nil
}
