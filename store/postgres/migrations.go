package postgres

// migration is one named schema change, applied in order.
type migration struct {
	name string
	sql  string
}

// migrations is the ordered schema history. Statements must be idempotent:
// Migrate runs the full list on every start.
var migrations = []migration{
	{
		name: "create_events",
		sql: `
CREATE TABLE IF NOT EXISTS herald_events (
	id            TEXT PRIMARY KEY,
	type          TEXT        NOT NULL,
	source        TEXT        NOT NULL DEFAULT '',
	tenant_id     TEXT        NOT NULL DEFAULT '',
	data          JSONB,
	metadata      JSONB,
	status        TEXT        NOT NULL DEFAULT 'pending',
	error_message TEXT        NOT NULL DEFAULT '',
	retry_count   INT         NOT NULL DEFAULT 0,
	processed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	},
	{
		name: "index_events_status",
		sql:  `CREATE INDEX IF NOT EXISTS idx_herald_events_status ON herald_events (status, created_at)`,
	},
	{
		name: "index_events_tenant",
		sql:  `CREATE INDEX IF NOT EXISTS idx_herald_events_tenant ON herald_events (tenant_id, created_at DESC)`,
	},
	{
		name: "index_events_type",
		sql:  `CREATE INDEX IF NOT EXISTS idx_herald_events_type ON herald_events (type)`,
	},
	{
		name: "create_endpoints",
		sql: `
CREATE TABLE IF NOT EXISTS herald_endpoints (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT        NOT NULL,
	name              TEXT        NOT NULL,
	url               TEXT        NOT NULL,
	secret            TEXT        NOT NULL,
	event_types       TEXT[]      NOT NULL DEFAULT '{}',
	headers           JSONB,
	enabled           BOOLEAN     NOT NULL DEFAULT true,
	failure_count     INT         NOT NULL DEFAULT 0,
	rate_limit        INT         NOT NULL DEFAULT 0,
	last_attempt_at   TIMESTAMPTZ,
	last_triggered_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	},
	{
		name: "index_endpoints_tenant",
		sql:  `CREATE INDEX IF NOT EXISTS idx_herald_endpoints_tenant ON herald_endpoints (tenant_id, enabled)`,
	},
	{
		name: "create_attempts",
		sql: `
CREATE TABLE IF NOT EXISTS herald_attempts (
	id             TEXT PRIMARY KEY,
	endpoint_id    TEXT        NOT NULL REFERENCES herald_endpoints (id) ON DELETE CASCADE,
	event_id       TEXT        NOT NULL DEFAULT '',
	attempt_number INT         NOT NULL DEFAULT 1,
	status         TEXT        NOT NULL,
	http_status    INT         NOT NULL DEFAULT 0,
	signature      TEXT        NOT NULL DEFAULT '',
	error          TEXT        NOT NULL DEFAULT '',
	response       TEXT        NOT NULL DEFAULT '',
	latency_ms     INT         NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	},
	{
		name: "index_attempts_endpoint",
		sql:  `CREATE INDEX IF NOT EXISTS idx_herald_attempts_endpoint ON herald_attempts (endpoint_id, created_at DESC)`,
	},
	{
		name: "index_attempts_event",
		sql:  `CREATE INDEX IF NOT EXISTS idx_herald_attempts_event ON herald_attempts (endpoint_id, event_id)`,
	},
}
