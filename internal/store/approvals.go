package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Approval statuses, per spec.md §3.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Approval records the reaction-approval state for a waiting-approval task.
// Both the original command message's ts and the bot's own plan message's
// ts are kept so a reaction on either one resolves the approval.
type Approval struct {
	TaskID          string
	Status          string
	ChannelID       string
	SourceMessageTS string
	PlanMessageTS   string
	ResolvedBy      string
	CreatedAt       time.Time
	ResolvedAt      sql.NullTime
}

// CreateApproval inserts a pending approval row for taskID, recording the
// channel, the original command message's ts, and the Slack message
// timestamp of the posted plan, so a reaction on either message can be
// correlated back to it.
func (s *Store) CreateApproval(taskID, channelID, sourceMessageTS, planMessageTS string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO approvals (task_id, status, channel_id, source_message_ts, plan_message_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, ApprovalPending, channelID, sourceMessageTS, planMessageTS, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("create approval %s: %w", taskID, err)
	}
	return nil
}

// GetApprovalByReactionTarget looks up a pending approval by the message a
// reaction landed on: either the original command message or the bot's
// own plan message qualify, matched by an OR predicate scoped to channelID.
func (s *Store) GetApprovalByReactionTarget(channelID, itemTS string) (*Approval, error) {
	row := s.db.QueryRow(`
		SELECT task_id, status, channel_id, source_message_ts, plan_message_ts, resolved_by, created_at, resolved_at
		FROM approvals
		WHERE channel_id = ? AND status = ? AND (source_message_ts = ? OR plan_message_ts = ?)`,
		channelID, ApprovalPending, itemTS, itemTS)
	return scanApproval(row)
}

// GetApproval loads an approval by task id.
func (s *Store) GetApproval(taskID string) (*Approval, error) {
	row := s.db.QueryRow(`
		SELECT task_id, status, channel_id, source_message_ts, plan_message_ts, resolved_by, created_at, resolved_at
		FROM approvals WHERE task_id = ?`, taskID)
	return scanApproval(row)
}

func scanApproval(row *sql.Row) (*Approval, error) {
	var a Approval
	var created int64
	var resolved sql.NullInt64
	err := row.Scan(&a.TaskID, &a.Status, &a.ChannelID, &a.SourceMessageTS, &a.PlanMessageTS, &a.ResolvedBy, &created, &resolved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	a.CreatedAt = time.Unix(created, 0)
	if resolved.Valid {
		a.ResolvedAt = sql.NullTime{Time: time.Unix(resolved.Int64, 0), Valid: true}
	}
	return &a, nil
}

// ResolveApproval moves a pending approval to approved/rejected, recording
// the reacting user. The WHERE status='pending' clause makes this the CAS
// arbiter for "first reaction wins" — a second, conflicting reaction from
// another user resolves zero rows and returns ErrCASConflict.
func (s *Store) ResolveApproval(taskID, toStatus, resolvedBy string) error {
	res, err := s.db.Exec(`
		UPDATE approvals SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE task_id = ? AND status = ?`,
		toStatus, resolvedBy, time.Now().Unix(), taskID, ApprovalPending,
	)
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", taskID, err)
	}
	if n != 1 {
		return ErrCASConflict
	}
	return nil
}
