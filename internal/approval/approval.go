// Package approval implements the reaction-gated approval workflow: post a
// plan, wait for the configured approve/reject reaction on it, and resolve
// the task's approval state exactly once.
package approval

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slackclaw/slackclaw/internal/slackio"
	"github.com/slackclaw/slackclaw/internal/store"
)

// Manager posts plans and resolves approvals from reaction events.
type Manager struct {
	store           *store.Store
	poster          *slackio.Poster
	approveReaction string
	rejectReaction  string
	logger          zerolog.Logger
}

// New builds an Approval Manager.
func New(st *store.Store, poster *slackio.Poster, approveReaction, rejectReaction string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:           st,
		poster:          poster,
		approveReaction: approveReaction,
		rejectReaction:  rejectReaction,
		logger:          logger.With().Str("component", "approval").Logger(),
	}
}

// PostPlan posts the proposed command as a plan message and records a
// pending approval row keyed by both the original command message's ts
// and the plan message's own ts, so a reaction on either resolves it.
func (m *Manager) PostPlan(taskID, channelID, sourceMessageTS, threadTS, commandText, lockKey string) error {
	text := fmt.Sprintf(":hourglass: Task `%s` awaiting approval (lock `%s`):\n```%s```\nReact with :%s: to approve or :%s: to reject.",
		taskID, lockKey, commandText, m.approveReaction, m.rejectReaction)

	ts, err := m.poster.Post(channelID, text, threadTS)
	if err != nil {
		return fmt.Errorf("post plan for task %s: %w", taskID, err)
	}
	if err := m.store.CreateApproval(taskID, channelID, sourceMessageTS, ts); err != nil {
		return fmt.Errorf("create approval for task %s: %w", taskID, err)
	}
	return nil
}

// Outcome is the result of a reaction event that resolved an approval.
type Outcome struct {
	TaskID   string
	Approved bool
}

// HandleReaction inspects an incoming reaction. If it lands on a pending
// approval's plan message or original command message and matches one of
// the configured reactions, the approval
// is resolved (first reaction wins — a CAS conflict from a second,
// differing reaction is swallowed as a no-op) and an Outcome is returned.
// A nil Outcome means the reaction was irrelevant (wrong emoji, unknown
// message, or already resolved).
func (m *Manager) HandleReaction(r slackio.Reaction) (*Outcome, error) {
	var approved bool
	switch r.Reaction {
	case m.approveReaction:
		approved = true
	case m.rejectReaction:
		approved = false
	default:
		return nil, nil
	}

	a, err := m.store.GetApprovalByReactionTarget(r.ChannelID, r.ItemTS)
	if err != nil {
		return nil, fmt.Errorf("lookup approval for message %s: %w", r.ItemTS, err)
	}
	if a == nil || a.Status != store.ApprovalPending {
		return nil, nil
	}

	toStatus := store.ApprovalRejected
	if approved {
		toStatus = store.ApprovalApproved
	}
	if err := m.store.ResolveApproval(a.TaskID, toStatus, r.UserID); err != nil {
		if err == store.ErrCASConflict {
			m.logger.Debug().Str("task_id", a.TaskID).Msg("approval already resolved by another reaction")
			return nil, nil
		}
		return nil, fmt.Errorf("resolve approval %s: %w", a.TaskID, err)
	}

	return &Outcome{TaskID: a.TaskID, Approved: approved}, nil
}
