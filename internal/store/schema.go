package store

// Schema is the DDL for the relational tables. Applied by deploy tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
	id                        TEXT PRIMARY KEY,
	name                      TEXT NOT NULL DEFAULT '',
	url                       TEXT NOT NULL,
	domain                    TEXT NOT NULL,
	status                    TEXT NOT NULL DEFAULT 'pending',
	seed_urls                 TEXT[] NOT NULL DEFAULT '{}',
	similarity_threshold      DOUBLE PRECISION NOT NULL DEFAULT 0.7,
	allow_general_knowledge   BOOLEAN NOT NULL DEFAULT false,
	max_messages_per_session  INTEGER NOT NULL DEFAULT 15,
	last_crawl_at             TIMESTAMPTZ,
	last_error                TEXT,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id           TEXT PRIMARY KEY,
	site_id      TEXT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	page_url     TEXT NOT NULL,
	heading      TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	vector_id    TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS knowledge_chunks_site_idx ON knowledge_chunks (site_id);

CREATE TABLE IF NOT EXISTS widget_sessions (
	id               TEXT PRIMARY KEY,
	site_id          TEXT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	ip_address_hash  TEXT NOT NULL,
	user_email       TEXT,
	message_count    INTEGER NOT NULL DEFAULT 0,
	first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id                TEXT PRIMARY KEY,
	site_id           TEXT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	session_id        TEXT NOT NULL,
	message           TEXT NOT NULL,
	response          TEXT NOT NULL,
	response_time_ms  INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS unanswered_questions (
	id                TEXT PRIMARY KEY,
	site_id           TEXT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	session_id        TEXT NOT NULL DEFAULT '',
	user_email        TEXT,
	question          TEXT NOT NULL,
	best_match_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	resolved          BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS unanswered_questions_site_idx ON unanswered_questions (site_id, created_at DESC);
`
