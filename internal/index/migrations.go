package index

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

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	uid         INTEGER NOT NULL,
	account_id  TEXT NOT NULL,
	folder      TEXT NOT NULL,
	from_addr   TEXT NOT NULL DEFAULT '',
	to_addrs    TEXT NOT NULL DEFAULT '[]',
	cc_addrs    TEXT NOT NULL DEFAULT '[]',
	bcc_addrs   TEXT NOT NULL DEFAULT '[]',
	subject     TEXT NOT NULL DEFAULT '',
	text_body   TEXT NOT NULL DEFAULT '',
	html_body   TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '[]',
	date        DATETIME NOT NULL,
	flags       TEXT NOT NULL DEFAULT '[]',
	thread_id   TEXT NOT NULL DEFAULT '',
	is_read     INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	is_starred  INTEGER NOT NULL DEFAULT 0 CHECK(is_starred IN (0, 1)),
	indexed_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_account_folder_uid
	ON messages(account_id, folder, uid);
CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_account_date
	ON messages(account_id, date);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
