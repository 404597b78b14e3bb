package storage

import (
	"context"
	"time"

	"github.com/ferrydock/ferry/pkg/types"
)

// Store defines the interface for control-plane state storage.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *types.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*types.APIKey, error)
	ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error

	// Clusters
	CreateCluster(ctx context.Context, cluster *types.Cluster) error
	GetCluster(ctx context.Context, id string) (*types.Cluster, error)
	GetClusterByName(ctx context.Context, orgID, name string) (*types.Cluster, error)
	ListClustersByOrg(ctx context.Context, orgID string) ([]*types.Cluster, error)
	ListClustersByStatus(ctx context.Context, status types.ClusterStatus) ([]*types.Cluster, error)
	UpdateCluster(ctx context.Context, cluster *types.Cluster) error
	UpdateClusterStatus(ctx context.Context, id string, status types.ClusterStatus) error
	UpdateClusterHeartbeat(ctx context.Context, id string, at time.Time) error

	// Agents
	CreateAgent(ctx context.Context, agent *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	GetAgentByName(ctx context.Context, orgID, name string) (*types.Agent, error)
	ListAgentsByOrg(ctx context.Context, orgID string) ([]*types.Agent, error)
	UpdateAgent(ctx context.Context, agent *types.Agent) error
	UpdateAgentStatus(ctx context.Context, id string, status types.AgentStatus) error

	// Executions
	CreateExecution(ctx context.Context, exec *types.Execution) error
	GetExecution(ctx context.Context, id string) (*types.Execution, error)
	UpdateExecution(ctx context.Context, exec *types.Execution) error
	ListExecutionsByOrg(ctx context.Context, orgID string, limit int) ([]*types.Execution, error)

	// Telemetry ingestion (tenant-scoped bulk inserts)
	InsertLogs(ctx context.Context, entries []*types.LogEntry) error
	InsertMetrics(ctx context.Context, points []*types.MetricPoint) error
	InsertSpans(ctx context.Context, spans []*types.TraceSpan) error

	// Audit
	InsertAudit(ctx context.Context, entry *types.AuditEntry) error

	// Utility
	Close() error
}
