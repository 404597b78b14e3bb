package storage

// schema is applied at startup. Statements are idempotent so a restart
// against an initialized database is a no-op.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL DEFAULT '',
		key_prefix      TEXT NOT NULL,
		key_hash        BYTEA NOT NULL,
		rate_limit      INTEGER NOT NULL DEFAULT 0,
		revoked_at      TIMESTAMPTZ,
		expires_at      TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys (key_prefix)`,

	`CREATE TABLE IF NOT EXISTS clusters (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		secret_hash     BYTEA NOT NULL,
		relayer_version TEXT NOT NULL DEFAULT '',
		capabilities    TEXT[] NOT NULL DEFAULT '{}',
		last_heartbeat  TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (organization_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clusters_status ON clusters (status)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL,
		image           TEXT NOT NULL,
		resources       JSONB,
		retry_policy    JSONB,
		status          TEXT NOT NULL DEFAULT 'pending',
		config_hash     TEXT NOT NULL DEFAULT '',
		use_sandbox     BOOLEAN NOT NULL DEFAULT false,
		warm_pool_size  INTEGER NOT NULL DEFAULT 0,
		network_policy  TEXT NOT NULL DEFAULT '',
		env             JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (organization_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS executions (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		agent_id        TEXT NOT NULL REFERENCES agents(id),
		cluster_id      TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'pending',
		priority        TEXT NOT NULL DEFAULT 'normal',
		input           JSONB,
		result          JSONB,
		error           TEXT NOT NULL DEFAULT '',
		attempt         INTEGER NOT NULL DEFAULT 1,
		duration_ms     BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		queued_at       TIMESTAMPTZ,
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_org_created ON executions (organization_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS logs (
		organization_id TEXT NOT NULL,
		execution_id    TEXT NOT NULL,
		ts              TIMESTAMPTZ NOT NULL,
		level           TEXT NOT NULL DEFAULT '',
		message         TEXT NOT NULL,
		fields          JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_org_ts ON logs (organization_id, ts)`,

	`CREATE TABLE IF NOT EXISTS metrics (
		organization_id TEXT NOT NULL,
		execution_id    TEXT NOT NULL,
		name            TEXT NOT NULL,
		ts              TIMESTAMPTZ NOT NULL,
		value           DOUBLE PRECISION NOT NULL,
		labels          JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_org_ts ON metrics (organization_id, ts)`,

	`CREATE TABLE IF NOT EXISTS traces (
		organization_id TEXT NOT NULL,
		execution_id    TEXT NOT NULL,
		trace_id        TEXT NOT NULL,
		span_id         TEXT NOT NULL,
		parent_span_id  TEXT NOT NULL DEFAULT '',
		name            TEXT NOT NULL,
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ NOT NULL,
		attributes      JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_traces_org_start ON traces (organization_id, start_time)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		actor           TEXT NOT NULL,
		action          TEXT NOT NULL,
		resource        TEXT NOT NULL,
		details         JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
