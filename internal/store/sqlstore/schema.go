package sqlstore

// schema is deliberately written in a driver-portable subset (TEXT, INTEGER,
// REAL, BOOLEAN, TIMESTAMP) so the same statements apply unchanged against
// both the sqlite3 and postgres drivers the teacher's cmd/server/main.go
// dials via parseDatabase. JSON-shaped columns (tags, default_env,
// parameters, metadata, notify_channels) are stored as TEXT and
// marshaled/unmarshaled in Go rather than relying on a JSONB type only one
// of the two engines has.
const schema = `
CREATE TABLE IF NOT EXISTS robots (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	tags       TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS robot_versions (
	id                TEXT PRIMARY KEY,
	robot_id          TEXT NOT NULL REFERENCES robots(id),
	version           TEXT NOT NULL,
	channel           TEXT NOT NULL,
	artifact_kind     TEXT NOT NULL,
	artifact_digest   TEXT NOT NULL,
	entrypoint_kind   TEXT NOT NULL,
	entrypoint_path   TEXT NOT NULL,
	default_arguments TEXT NOT NULL DEFAULT '[]',
	default_env       TEXT NOT NULL DEFAULT '{}',
	working_dir       TEXT NOT NULL DEFAULT '',
	required_env_keys TEXT NOT NULL DEFAULT '[]',
	source_commit     TEXT NOT NULL DEFAULT '',
	source_branch     TEXT NOT NULL DEFAULT '',
	source_build_url  TEXT NOT NULL DEFAULT '',
	source_created    TEXT NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMP NOT NULL,
	UNIQUE(robot_id, version)
);

CREATE TABLE IF NOT EXISTS schedules (
	id                    TEXT PRIMARY KEY,
	robot_id              TEXT NOT NULL UNIQUE REFERENCES robots(id),
	enabled               BOOLEAN NOT NULL DEFAULT TRUE,
	cron_expr             TEXT NOT NULL,
	timezone              TEXT NOT NULL DEFAULT 'UTC',
	window_start          TEXT NOT NULL DEFAULT '',
	window_end            TEXT NOT NULL DEFAULT '',
	max_concurrency       INTEGER NOT NULL DEFAULT 1,
	timeout_seconds       INTEGER NOT NULL DEFAULT 3600,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	retry_backoff_seconds INTEGER NOT NULL DEFAULT 60,
	last_tick_at          TIMESTAMP,
	created_at            TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sla_rules (
	id                     TEXT PRIMARY KEY,
	robot_id               TEXT NOT NULL UNIQUE REFERENCES robots(id),
	expected_every_minutes INTEGER NOT NULL DEFAULT 0,
	expected_daily_time    TEXT NOT NULL DEFAULT '',
	late_after_minutes     INTEGER NOT NULL DEFAULT 0,
	alert_on_failure       BOOLEAN NOT NULL DEFAULT TRUE,
	alert_on_late          BOOLEAN NOT NULL DEFAULT TRUE,
	notify_channels        TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS robot_env_bindings (
	robot_id  TEXT NOT NULL REFERENCES robots(id),
	env_name  TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	is_secret BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (robot_id, env_name, key)
);

CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	robot_id          TEXT NOT NULL REFERENCES robots(id),
	robot_version_id  TEXT NOT NULL REFERENCES robot_versions(id),
	service_id        TEXT,
	schedule_id       TEXT,
	env_name          TEXT NOT NULL,
	trigger_type      TEXT NOT NULL,
	attempt           INTEGER NOT NULL DEFAULT 1,
	parameters        TEXT NOT NULL DEFAULT '{}',
	runtime_env       TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL,
	queued_at         TIMESTAMP NOT NULL,
	started_at        TIMESTAMP,
	finished_at       TIMESTAMP,
	duration_seconds  REAL,
	triggered_by      TEXT NOT NULL DEFAULT '',
	host_name         TEXT NOT NULL DEFAULT '',
	process_id        INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	cancel_requested  BOOLEAN NOT NULL DEFAULT FALSE,
	cancel_requested_at TIMESTAMP,
	canceled_at       TIMESTAMP,
	canceled_by       TEXT NOT NULL DEFAULT '',
	fire_time         TIMESTAMP,
	not_before        TIMESTAMP NOT NULL,
	claim_worker_id   TEXT,
	UNIQUE(schedule_id, fire_time)
);

CREATE INDEX IF NOT EXISTS idx_runs_status_not_before ON runs(status, not_before);
CREATE INDEX IF NOT EXISTS idx_runs_robot_status ON runs(robot_id, status);

CREATE TABLE IF NOT EXISTS run_logs (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	sequence      INTEGER NOT NULL,
	timestamp     TIMESTAMP NOT NULL,
	level         TEXT NOT NULL,
	message       TEXT NOT NULL,
	post_terminal BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE(run_id, sequence)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	name         TEXT NOT NULL,
	path         TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS workers (
	id             TEXT PRIMARY KEY,
	hostname       TEXT NOT NULL,
	status         TEXT NOT NULL,
	last_heartbeat TIMESTAMP NOT NULL,
	version        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS alert_events (
	id          TEXT PRIMARY KEY,
	robot_id    TEXT NOT NULL,
	run_id      TEXT,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);
`
