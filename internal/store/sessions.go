package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AgentSession binds an ongoing agent-CLI conversation (Kimi/Codex) to the
// (channel_id, thread_ts) it belongs to, so a later task in the same
// thread can resume the same underlying session instead of starting
// fresh. Keying by thread rather than lock_key matters because most
// commands share lock_key="global" — keying there would bleed one
// thread's session and conversational history into an unrelated thread.
type AgentSession struct {
	SessionID  string
	ChannelID  string
	ThreadTS   string
	AgentKind  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// SaveAgentSession upserts the session row keyed by session id: an existing
// id has its last_used_at refreshed, a new id for the same
// channelID+threadTS+agentKind adds a new row.
func (s *Store) SaveAgentSession(sess *AgentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO agent_sessions (session_id, channel_id, thread_ts, agent_kind, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET last_used_at = excluded.last_used_at`,
		sess.SessionID, sess.ChannelID, sess.ThreadTS, sess.AgentKind, now, now,
	)
	if err != nil {
		return fmt.Errorf("save agent session %s: %w", sess.SessionID, err)
	}
	return nil
}

// GetAgentSessionByThread returns the most recently used session for a
// (channel, thread, agent kind) triple, or nil if none exists yet.
func (s *Store) GetAgentSessionByThread(channelID, threadTS, agentKind string) (*AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT session_id, channel_id, thread_ts, agent_kind, created_at, last_used_at
		FROM agent_sessions WHERE channel_id = ? AND thread_ts = ? AND agent_kind = ?
		ORDER BY last_used_at DESC LIMIT 1`, channelID, threadTS, agentKind)

	var sess AgentSession
	var created, used int64
	err := row.Scan(&sess.SessionID, &sess.ChannelID, &sess.ThreadTS, &sess.AgentKind, &created, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session for %s/%s/%s: %w", channelID, threadTS, agentKind, err)
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.LastUsedAt = time.Unix(used, 0)
	return &sess, nil
}

// TouchAgentSession bumps last_used_at, extending the session's retention window.
func (s *Store) TouchAgentSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE agent_sessions SET last_used_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch agent session %s: %w", sessionID, err)
	}
	return nil
}
