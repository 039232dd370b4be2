package store

// Schema creates the run history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS nest_runs (
	run_id      TEXT PRIMARY KEY,
	page_url    TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nest_items (
	run_id      TEXT NOT NULL REFERENCES nest_runs(run_id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	marker      TEXT NOT NULL,
	href        TEXT DEFAULT '',
	url         TEXT DEFAULT '',
	status      TEXT NOT NULL,
	reason      TEXT DEFAULT '',
	kind        TEXT DEFAULT '',
	error       TEXT DEFAULT '',
	status_code INTEGER DEFAULT 0,
	substituted TEXT DEFAULT '[]',
	missing     TEXT DEFAULT '[]',
	duration_ms INTEGER DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_nest_runs_started ON nest_runs(started_at DESC);
`
