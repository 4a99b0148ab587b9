package store

import (
	"fmt"
	"time"
)

// MarkMessageProcessed records that (channelID, messageTS) produced taskID.
// INSERT OR IGNORE makes the RowsAffected count the dedup arbiter: 1 means
// this call was the first to see the message, 0 means it was already seen.
func (s *Store) MarkMessageProcessed(channelID, messageTS, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO processed_messages (channel_id, message_ts, task_id, created_at)
		VALUES (?, ?, ?, ?)`,
		channelID, messageTS, taskID, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("mark message processed %s/%s: %w", channelID, messageTS, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark message processed %s/%s: %w", channelID, messageTS, err)
	}
	return n == 1, nil
}

// GetCheckpoint returns the saved value for name, or "" if unset.
func (s *Store) GetCheckpoint(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM checkpoints WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", nil
		}
		return "", fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	return value, nil
}

// SetCheckpoint persists the poll cursor / newest-seen timestamp under name.
func (s *Store) SetCheckpoint(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO checkpoints (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", name, err)
	}
	return nil
}
