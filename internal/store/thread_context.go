package store

import (
	"fmt"
	"time"
)

// ThreadMessage is one turn of the running conversation memory kept per
// Slack thread, appended to by the Executor after each task and read back
// when assembling the next prompt for the same thread.
type ThreadMessage struct {
	ChannelID string
	ThreadTS  string
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}

// AppendThreadContext appends the next message in a (channel, thread_ts)
// conversation. Callers serialize calls per (channel, thread_ts) themselves
// (the orchestrator holds a per-key mutex) so seq assignment here never races.
func (s *Store) AppendThreadContext(channelID, threadTS, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nextSeq int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_context
		WHERE channel_id = ? AND thread_ts = ?`, channelID, threadTS).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("append thread context %s/%s: %w", channelID, threadTS, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO thread_context (channel_id, thread_ts, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		channelID, threadTS, nextSeq, role, content, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append thread context %s/%s: %w", channelID, threadTS, err)
	}
	return nil
}

// ListThreadContext returns the conversation so far for a thread, in order.
func (s *Store) ListThreadContext(channelID, threadTS string) ([]ThreadMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT channel_id, thread_ts, seq, role, content, created_at
		FROM thread_context WHERE channel_id = ? AND thread_ts = ? ORDER BY seq ASC`,
		channelID, threadTS)
	if err != nil {
		return nil, fmt.Errorf("list thread context %s/%s: %w", channelID, threadTS, err)
	}
	defer rows.Close()

	var out []ThreadMessage
	for rows.Next() {
		var m ThreadMessage
		var created int64
		if err := rows.Scan(&m.ChannelID, &m.ThreadTS, &m.Seq, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan thread context row: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}
