package database

// SQLiteSchema mirrors the Postgres migrations for the embedded dev/test
// backend, which cannot run golang-migrate's postgres source.
//
// Timestamps are stored as RFC3339 UTC text on both backends so that string
// comparison is chronological and the layout stays driver-independent.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS bots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	name TEXT,
	username TEXT,
	telegram_id BIGINT UNIQUE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_id BIGINT NOT NULL UNIQUE,
	first_name TEXT,
	last_name TEXT,
	username TEXT,
	language_code TEXT,
	is_bot BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_bots (
	user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	bot_id BIGINT NOT NULL REFERENCES bots (id) ON DELETE CASCADE,
	prompt TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, bot_id)
);

CREATE TABLE IF NOT EXISTS chat_sessions (
	chat_id BIGINT PRIMARY KEY,
	user_id BIGINT NOT NULL DEFAULT 0,
	bot_id BIGINT NOT NULL DEFAULT 0,
	state TEXT NOT NULL DEFAULT 'idle',
	state_expires_at TEXT,
	history TEXT,
	updated_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_state_expiry
	ON chat_sessions (state, state_expires_at);
`
