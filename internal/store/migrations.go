package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS task_requests (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'pending',
	user_id          TEXT NOT NULL,
	user_email       TEXT NOT NULL DEFAULT '',
	user_name        TEXT NOT NULL DEFAULT '',
	expert_email     TEXT NOT NULL DEFAULT '',
	expert_name      TEXT NOT NULL DEFAULT '',
	expert_type      TEXT NOT NULL DEFAULT '',
	task_name        TEXT NOT NULL,
	task_description TEXT NOT NULL DEFAULT '',
	due_date         DATETIME,
	files            TEXT NOT NULL DEFAULT '[]',
	estimate         TEXT,
	invoice          TEXT,
	decline_feedback TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	completed_at     DATETIME,
	revision         INTEGER NOT NULL DEFAULT 1,
	message_seq      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_task_requests_user ON task_requests(user_id);
CREATE INDEX IF NOT EXISTS idx_task_requests_expert ON task_requests(expert_email);
CREATE INDEX IF NOT EXISTS idx_task_requests_status ON task_requests(status);

CREATE TABLE IF NOT EXISTS task_messages (
	id           TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL REFERENCES task_requests(id) ON DELETE CASCADE,
	client_id    TEXT,
	seq          INTEGER NOT NULL,
	sender       TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'plain',
	content      TEXT NOT NULL DEFAULT '',
	read         INTEGER NOT NULL DEFAULT 0,
	sender_name  TEXT NOT NULL DEFAULT '',
	sender_email TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	UNIQUE (task_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_task_messages_client
	ON task_messages(task_id, client_id) WHERE client_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_task_messages_unread
	ON task_messages(task_id, sender, read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
