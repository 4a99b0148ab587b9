package store

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	if err := s.migrateV2(); err != nil {
		return err
	}
	if err := s.migrateV3(); err != nil {
		return err
	}
	return s.migrateV4()
}

// migrateV1 creates the core task-lifecycle tables.
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		channel_id TEXT NOT NULL,
		message_ts TEXT NOT NULL,
		task_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (channel_id, message_ts)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		channel_id TEXT NOT NULL,
		message_ts TEXT NOT NULL,
		thread_ts TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL,
		command_text TEXT NOT NULL,
		lock_key TEXT NOT NULL DEFAULT 'global',
		source TEXT NOT NULL DEFAULT '',
		summary TEXT,
		details TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_lock_key ON tasks(lock_key);

	CREATE TABLE IF NOT EXISTS execution_locks (
		lock_key TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		acquired_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the approval and agent-session tables.
func (s *Store) migrateV2() error {
	schema := `
	CREATE TABLE IF NOT EXISTS approvals (
		task_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		channel_id TEXT NOT NULL DEFAULT '',
		source_message_ts TEXT NOT NULL DEFAULT '',
		plan_message_ts TEXT NOT NULL DEFAULT '',
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		resolved_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_lookup
		ON approvals(channel_id, status, source_message_ts, plan_message_ts);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		thread_ts TEXT NOT NULL,
		agent_kind TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_sessions_thread ON agent_sessions(channel_id, thread_ts, agent_kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV4 adds the newline-joined image_paths column produced by the
// Attachment Materializer, one row write ahead of task dispatch.
func (s *Store) migrateV4() error {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('tasks') WHERE name = 'image_paths'`).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = s.db.Exec(`ALTER TABLE tasks ADD COLUMN image_paths TEXT NOT NULL DEFAULT ''`)
	return err
}

// migrateV3 adds thread context (per channel+thread conversation memory)
// and the dead-letter table backing Reporter retry.
func (s *Store) migrateV3() error {
	schema := `
	CREATE TABLE IF NOT EXISTS thread_context (
		channel_id TEXT NOT NULL,
		thread_ts TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (channel_id, thread_ts, seq)
	);

	CREATE TABLE IF NOT EXISTS report_dead_letters (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		thread_ts TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		next_attempt_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_next_attempt ON report_dead_letters(next_attempt_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
