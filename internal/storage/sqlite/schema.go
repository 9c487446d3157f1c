package sqlite

// schemaVersion is bumped whenever schemaSQL changes shape. Recorded in
// schema_version so a reopened database can be checked before use.
const schemaVersion = 1

const schemaSQL = `
-- Jobs: one row per organize request
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK (status IN ('pending','planning','processing','completed','failed','cancelled')),
	config_json TEXT NOT NULL,
	user_id TEXT,
	error TEXT,
	total_tasks INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks INTEGER NOT NULL DEFAULT 0,
	skipped_tasks INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);

-- Tasks: one row per audiobook folder
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	folder_path TEXT NOT NULL,
	url TEXT,
	status TEXT NOT NULL CHECK (status IN ('pending','running','waiting_for_user','completed','failed','skipped','cancelled')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 2,
	error TEXT,
	result_json TEXT,
	worker_id TEXT,
	user_input_type TEXT,
	user_input_prompt TEXT,
	user_input_options TEXT,
	user_input_context TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	enqueued_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

-- File locks: at most one holder per canonical directory path
CREATE TABLE IF NOT EXISTS file_locks (
	lock_path TEXT PRIMARY KEY,
	locked_by_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	acquired_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_locks_task ON file_locks(locked_by_task);

-- Schema version bookkeeping
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

// InitSchema initializes the database schema
func (s *SQLiteDB) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, strftime('%s','now'))`,
		schemaVersion,
	); err != nil {
		return err
	}

	s.logger.Debug().Int("version", schemaVersion).Msg("Database schema initialized")

	return s.runMigrations()
}

// runMigrations checks for and applies schema migrations for existing databases
func (s *SQLiteDB) runMigrations() error {
	rows, err := s.db.Query(`PRAGMA table_info(tasks)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasEnqueuedAt := false
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, dfltValue, pk interface{}
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == "enqueued_at" {
			hasEnqueuedAt = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Databases created before the dispatcher stamped enqueue times
	if !hasEnqueuedAt {
		s.logger.Info().Msg("Running migration: Adding enqueued_at column to tasks")
		if _, err := s.db.Exec(`ALTER TABLE tasks ADD COLUMN enqueued_at INTEGER`); err != nil {
			return err
		}
	}

	return nil
}
