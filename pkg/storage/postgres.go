package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferrydock/ferry/pkg/types"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the idempotent schema statements.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *types.Organization) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`,
		org.ID, org.Name, org.CreatedAt)
	return err
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	var org types.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, organization_id, name, key_prefix, key_hash, rate_limit, revoked_at, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.OrganizationID, key.Name, key.KeyPrefix, key.KeyHash,
		key.RateLimit, key.RevokedAt, key.ExpiresAt, key.CreatedAt)
	return err
}

func (s *PostgresStore) GetAPIKey(ctx context.Context, id string) (*types.APIKey, error) {
	var key types.APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, key_prefix, key_hash, rate_limit, revoked_at, expires_at, created_at
		 FROM api_keys WHERE id = $1`, id,
	).Scan(&key.ID, &key.OrganizationID, &key.Name, &key.KeyPrefix, &key.KeyHash,
		&key.RateLimit, &key.RevokedAt, &key.ExpiresAt, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("api key %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *PostgresStore) ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, name, key_prefix, key_hash, rate_limit, revoked_at, expires_at, created_at
		 FROM api_keys WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*types.APIKey
	for rows.Next() {
		var key types.APIKey
		if err := rows.Scan(&key.ID, &key.OrganizationID, &key.Name, &key.KeyPrefix, &key.KeyHash,
			&key.RateLimit, &key.RevokedAt, &key.ExpiresAt, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clusters (id, organization_id, name, status, secret_hash, relayer_version, capabilities, last_heartbeat, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cluster.ID, cluster.OrganizationID, cluster.Name, cluster.Status, cluster.SecretHash,
		cluster.RelayerVersion, cluster.Capabilities, cluster.LastHeartbeat, cluster.CreatedAt, cluster.UpdatedAt)
	return err
}

func (s *PostgresStore) scanCluster(row pgx.Row) (*types.Cluster, error) {
	var cluster types.Cluster
	err := row.Scan(&cluster.ID, &cluster.OrganizationID, &cluster.Name, &cluster.Status,
		&cluster.SecretHash, &cluster.RelayerVersion, &cluster.Capabilities,
		&cluster.LastHeartbeat, &cluster.CreatedAt, &cluster.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

const clusterColumns = `id, organization_id, name, status, secret_hash, relayer_version, capabilities, last_heartbeat, created_at, updated_at`

func (s *PostgresStore) GetCluster(ctx context.Context, id string) (*types.Cluster, error) {
	cluster, err := s.scanCluster(s.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	return cluster, err
}

func (s *PostgresStore) GetClusterByName(ctx context.Context, orgID, name string) (*types.Cluster, error) {
	cluster, err := s.scanCluster(s.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE organization_id = $1 AND name = $2`, orgID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cluster %s/%s: %w", orgID, name, types.ErrNotFound)
	}
	return cluster, err
}

func (s *PostgresStore) listClusters(ctx context.Context, query string, args ...any) ([]*types.Cluster, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*types.Cluster
	for rows.Next() {
		cluster, err := s.scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	return clusters, rows.Err()
}

func (s *PostgresStore) ListClustersByOrg(ctx context.Context, orgID string) ([]*types.Cluster, error) {
	return s.listClusters(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE organization_id = $1 ORDER BY created_at`, orgID)
}

func (s *PostgresStore) ListClustersByStatus(ctx context.Context, status types.ClusterStatus) ([]*types.Cluster, error) {
	return s.listClusters(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE status = $1`, status)
}

func (s *PostgresStore) UpdateCluster(ctx context.Context, cluster *types.Cluster) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE clusters SET name = $2, status = $3, secret_hash = $4, relayer_version = $5,
		 capabilities = $6, last_heartbeat = $7, updated_at = now() WHERE id = $1`,
		cluster.ID, cluster.Name, cluster.Status, cluster.SecretHash,
		cluster.RelayerVersion, cluster.Capabilities, cluster.LastHeartbeat)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cluster %s: %w", cluster.ID, types.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateClusterStatus(ctx context.Context, id string, status types.ClusterStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE clusters SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateClusterHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE clusters SET last_heartbeat = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *types.Agent) error {
	resources, retryPolicy, env, err := marshalAgentJSON(agent)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, organization_id, name, image, resources, retry_policy, status, config_hash,
		 use_sandbox, warm_pool_size, network_policy, env, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		agent.ID, agent.OrganizationID, agent.Name, agent.Image, resources, retryPolicy,
		agent.Status, agent.ConfigHash, agent.UseSandbox, agent.WarmPoolSize,
		agent.NetworkPolicy, env, agent.CreatedAt, agent.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("agent %s: %w", agent.Name, types.ErrConflict)
	}
	return err
}

const agentColumns = `id, organization_id, name, image, resources, retry_policy, status, config_hash, use_sandbox, warm_pool_size, network_policy, env, created_at, updated_at`

func scanAgent(row pgx.Row) (*types.Agent, error) {
	var agent types.Agent
	var resources, retryPolicy, env []byte
	err := row.Scan(&agent.ID, &agent.OrganizationID, &agent.Name, &agent.Image,
		&resources, &retryPolicy, &agent.Status, &agent.ConfigHash,
		&agent.UseSandbox, &agent.WarmPoolSize, &agent.NetworkPolicy, &env,
		&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalAgentJSON(&agent, resources, retryPolicy, env); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	agent, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, types.ErrNotFound)
	}
	return agent, err
}

func (s *PostgresStore) GetAgentByName(ctx context.Context, orgID, name string) (*types.Agent, error) {
	agent, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE organization_id = $1 AND name = $2`, orgID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %s/%s: %w", orgID, name, types.ErrNotFound)
	}
	return agent, err
}

func (s *PostgresStore) ListAgentsByOrg(ctx context.Context, orgID string) ([]*types.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*types.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *types.Agent) error {
	resources, retryPolicy, env, err := marshalAgentJSON(agent)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET image = $2, resources = $3, retry_policy = $4, status = $5, config_hash = $6,
		 use_sandbox = $7, warm_pool_size = $8, network_policy = $9, env = $10, updated_at = now()
		 WHERE id = $1`,
		agent.ID, agent.Image, resources, retryPolicy, agent.Status, agent.ConfigHash,
		agent.UseSandbox, agent.WarmPoolSize, agent.NetworkPolicy, env)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", agent.ID, types.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, id string, status types.AgentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *types.Execution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, organization_id, agent_id, cluster_id, status, priority, input, result,
		 error, attempt, duration_ms, created_at, queued_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		exec.ID, exec.OrganizationID, exec.AgentID, exec.ClusterID, exec.Status, exec.Priority,
		rawOrNil(exec.Input), rawOrNil(exec.Result), exec.Error, exec.Attempt, exec.DurationMs,
		exec.CreatedAt, exec.QueuedAt, exec.StartedAt, exec.CompletedAt)
	return err
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*types.Execution, error) {
	var exec types.Execution
	var input, result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, agent_id, cluster_id, status, priority, input, result, error,
		 attempt, duration_ms, created_at, queued_at, started_at, completed_at
		 FROM executions WHERE id = $1`, id,
	).Scan(&exec.ID, &exec.OrganizationID, &exec.AgentID, &exec.ClusterID, &exec.Status, &exec.Priority,
		&input, &result, &exec.Error, &exec.Attempt, &exec.DurationMs,
		&exec.CreatedAt, &exec.QueuedAt, &exec.StartedAt, &exec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	exec.Input = input
	exec.Result = result
	return &exec, nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *types.Execution) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET cluster_id = $2, status = $3, result = $4, error = $5, attempt = $6,
		 duration_ms = $7, queued_at = $8, started_at = $9, completed_at = $10 WHERE id = $1`,
		exec.ID, exec.ClusterID, exec.Status, rawOrNil(exec.Result), exec.Error, exec.Attempt,
		exec.DurationMs, exec.QueuedAt, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, types.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListExecutionsByOrg(ctx context.Context, orgID string, limit int) ([]*types.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, agent_id, cluster_id, status, priority, input, result, error,
		 attempt, duration_ms, created_at, queued_at, started_at, completed_at
		 FROM executions WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*types.Execution
	for rows.Next() {
		var exec types.Execution
		var input, result []byte
		if err := rows.Scan(&exec.ID, &exec.OrganizationID, &exec.AgentID, &exec.ClusterID, &exec.Status,
			&exec.Priority, &input, &result, &exec.Error, &exec.Attempt, &exec.DurationMs,
			&exec.CreatedAt, &exec.QueuedAt, &exec.StartedAt, &exec.CompletedAt); err != nil {
			return nil, err
		}
		exec.Input = input
		exec.Result = result
		execs = append(execs, &exec)
	}
	return execs, rows.Err()
}

func (s *PostgresStore) InsertLogs(ctx context.Context, entries []*types.LogEntry) error {
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"logs"},
		[]string{"organization_id", "execution_id", "ts", "level", "message", "fields"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			fields, err := mapJSON(e.Fields)
			if err != nil {
				return nil, err
			}
			return []any{e.OrganizationID, e.ExecutionID, e.Timestamp, e.Level, e.Message, fields}, nil
		}))
	return err
}

func (s *PostgresStore) InsertMetrics(ctx context.Context, points []*types.MetricPoint) error {
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"metrics"},
		[]string{"organization_id", "execution_id", "name", "ts", "value", "labels"},
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			p := points[i]
			labels, err := mapJSON(p.Labels)
			if err != nil {
				return nil, err
			}
			return []any{p.OrganizationID, p.ExecutionID, p.Name, p.Timestamp, p.Value, labels}, nil
		}))
	return err
}

func (s *PostgresStore) InsertSpans(ctx context.Context, spans []*types.TraceSpan) error {
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"traces"},
		[]string{"organization_id", "execution_id", "trace_id", "span_id", "parent_span_id", "name", "start_time", "end_time", "attributes"},
		pgx.CopyFromSlice(len(spans), func(i int) ([]any, error) {
			sp := spans[i]
			attrs, err := mapJSON(sp.Attributes)
			if err != nil {
				return nil, err
			}
			return []any{sp.OrganizationID, sp.ExecutionID, sp.TraceID, sp.SpanID, sp.ParentSpanID,
				sp.Name, sp.StartTime, sp.EndTime, attrs}, nil
		}))
	return err
}

func (s *PostgresStore) InsertAudit(ctx context.Context, entry *types.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, organization_id, actor, action, resource, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.OrganizationID, entry.Actor, entry.Action, entry.Resource,
		rawOrNil(entry.Details), entry.CreatedAt)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func marshalAgentJSON(agent *types.Agent) (resources, retryPolicy, env []byte, err error) {
	if agent.Resources != nil {
		if resources, err = json.Marshal(agent.Resources); err != nil {
			return nil, nil, nil, err
		}
	}
	if agent.RetryPolicy != nil {
		if retryPolicy, err = json.Marshal(agent.RetryPolicy); err != nil {
			return nil, nil, nil, err
		}
	}
	if agent.Env != nil {
		if env, err = json.Marshal(agent.Env); err != nil {
			return nil, nil, nil, err
		}
	}
	return resources, retryPolicy, env, nil
}

func unmarshalAgentJSON(agent *types.Agent, resources, retryPolicy, env []byte) error {
	if len(resources) > 0 {
		agent.Resources = &types.AgentResources{}
		if err := json.Unmarshal(resources, agent.Resources); err != nil {
			return err
		}
	}
	if len(retryPolicy) > 0 {
		agent.RetryPolicy = &types.RetryPolicy{}
		if err := json.Unmarshal(retryPolicy, agent.RetryPolicy); err != nil {
			return err
		}
	}
	if len(env) > 0 {
		if err := json.Unmarshal(env, &agent.Env); err != nil {
			return err
		}
	}
	return nil
}

func mapJSON(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// rawOrNil maps empty JSON payloads to SQL NULL.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
