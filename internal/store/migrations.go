package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration holds a single schema migration. Either sql or fn is set;
// fn is used for steps that need to inspect the live schema first.
type migration struct {
	version int
	sql     string
	fn      func(db *sqlx.DB) error
}

// migrations is the ordered list of schema migrations. Versions must be
// sequential starting from 1. The runner records each applied version
// in schema_version, so re-running on an up-to-date database is a
// no-op.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_user_id TEXT NOT NULL UNIQUE,
	nickname     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS todos (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL REFERENCES users(id),
	title          TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'done', 'deleted')),
	remind_at      DATETIME,
	reminded       INTEGER NOT NULL DEFAULT 0 CHECK(reminded IN (0, 1)),
	remind_count   INTEGER NOT NULL DEFAULT 0,
	last_remind_at DATETIME,
	completed_at   DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_todos_user_id ON todos(user_id);
CREATE INDEX IF NOT EXISTS idx_todos_status ON todos(status);
CREATE INDEX IF NOT EXISTS idx_todos_remind_at ON todos(remind_at);
`,
	},
	{
		// Older deployments predate recurrence support, so the column
		// is added only when absent and stays nullable: existing rows
		// keep repeat_rule = NULL and are treated as non-repeating.
		version: 2,
		fn:      addRepeatRuleColumn,
	},
	{
		version: 3,
		sql: `
CREATE INDEX IF NOT EXISTS idx_todos_user_status ON todos(user_id, status);
CREATE INDEX IF NOT EXISTS idx_todos_due_scan ON todos(status, reminded, remind_at);
`,
	},
}

// addRepeatRuleColumn adds the nullable repeat_rule column if the todos
// table does not have it yet. Safe to run any number of times; never
// touches existing data.
func addRepeatRuleColumn(db *sqlx.DB) error {
	var count int
	err := db.Get(&count,
		"SELECT COUNT(*) FROM pragma_table_info('todos') WHERE name = 'repeat_rule'")
	if err != nil {
		return fmt.Errorf("inspecting todos schema: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE todos ADD COLUMN repeat_rule TEXT"); err != nil {
		return fmt.Errorf("adding repeat_rule column: %w", err)
	}
	return nil
}
