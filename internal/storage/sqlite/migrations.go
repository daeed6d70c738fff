package sqlite

// migrations are applied in order; index i brings the schema to version i+1.
// Never edit a released entry, append a new one.
var migrations = []string{
	// 1: tasks, comments and the agent liveness record.
	`
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		tags         TEXT NOT NULL DEFAULT '[]',
		links        TEXT NOT NULL DEFAULT '[]',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		completed_at INTEGER,
		due_at       INTEGER,
		CHECK ((status = 'DONE') = (completed_at IS NOT NULL))
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at, id);

	CREATE TABLE IF NOT EXISTS task_comments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		author     TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_comments_task ON task_comments(task_id, id);

	CREATE TABLE IF NOT EXISTS agent_status (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		status        TEXT NOT NULL,
		task_id       TEXT,
		owner         TEXT,
		last_activity INTEGER NOT NULL,
		processed     INTEGER NOT NULL DEFAULT 0,
		errors        INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO agent_status (id, status, last_activity, processed, errors)
	VALUES (1, 'IDLE', 0, 0, 0);
	`,

	// 2: action-graph thread state.
	`
	CREATE TABLE IF NOT EXISTS graph_threads (
		id         TEXT PRIMARY KEY,
		messages   TEXT NOT NULL DEFAULT '[]',
		pending    TEXT,
		response   TEXT,
		updated_at INTEGER NOT NULL
	);
	`,

	// 3: knowledge memory.
	`
	CREATE TABLE IF NOT EXISTS memory_entities (
		id         TEXT PRIMARY KEY,
		partition  TEXT NOT NULL,
		content    TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_entities_partition ON memory_entities(partition, created_at);

	CREATE TABLE IF NOT EXISTS memory_relations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		partition  TEXT NOT NULL,
		from_id    TEXT NOT NULL REFERENCES memory_entities(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL REFERENCES memory_entities(id) ON DELETE CASCADE,
		kind       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`,
}
