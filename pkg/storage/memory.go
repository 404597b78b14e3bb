package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ferrydock/ferry/pkg/types"
)

// MemoryStore is a map-backed Store for tests and single-process
// development. State does not survive restart.
type MemoryStore struct {
	mu sync.RWMutex

	orgs       map[string]*types.Organization
	apiKeys    map[string]*types.APIKey
	clusters   map[string]*types.Cluster
	agents     map[string]*types.Agent
	executions map[string]*types.Execution

	logs    []*types.LogEntry
	metrics []*types.MetricPoint
	spans   []*types.TraceSpan
	audits  []*types.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:       make(map[string]*types.Organization),
		apiKeys:    make(map[string]*types.APIKey),
		clusters:   make(map[string]*types.Cluster),
		agents:     make(map[string]*types.Agent),
		executions: make(map[string]*types.Execution),
	}
}

func (s *MemoryStore) CreateOrganization(ctx context.Context, org *types.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, types.ErrNotFound)
	}
	cp := *org
	return &cp, nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAPIKey(ctx context.Context, id string) (*types.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.apiKeys[id]
	if !ok {
		return nil, fmt.Errorf("api key %s: %w", id, types.ErrNotFound)
	}
	cp := *key
	return &cp, nil
}

func (s *MemoryStore) ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*types.APIKey
	for _, key := range s.apiKeys {
		if key.KeyPrefix == prefix {
			cp := *key
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.apiKeys[id]
	if !ok {
		return fmt.Errorf("api key %s: %w", id, types.ErrNotFound)
	}
	key.RevokedAt = &at
	return nil
}

func (s *MemoryStore) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cluster
	s.clusters[cluster.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCluster(ctx context.Context, id string) (*types.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cluster, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	cp := *cluster
	return &cp, nil
}

func (s *MemoryStore) GetClusterByName(ctx context.Context, orgID, name string) (*types.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cluster := range s.clusters {
		if cluster.OrganizationID == orgID && cluster.Name == name {
			cp := *cluster
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("cluster %s/%s: %w", orgID, name, types.ErrNotFound)
}

func (s *MemoryStore) ListClustersByOrg(ctx context.Context, orgID string) ([]*types.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var clusters []*types.Cluster
	for _, cluster := range s.clusters {
		if cluster.OrganizationID == orgID {
			cp := *cluster
			clusters = append(clusters, &cp)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].CreatedAt.Before(clusters[j].CreatedAt) })
	return clusters, nil
}

func (s *MemoryStore) ListClustersByStatus(ctx context.Context, status types.ClusterStatus) ([]*types.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var clusters []*types.Cluster
	for _, cluster := range s.clusters {
		if cluster.Status == status {
			cp := *cluster
			clusters = append(clusters, &cp)
		}
	}
	return clusters, nil
}

func (s *MemoryStore) UpdateCluster(ctx context.Context, cluster *types.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[cluster.ID]; !ok {
		return fmt.Errorf("cluster %s: %w", cluster.ID, types.ErrNotFound)
	}
	cp := *cluster
	cp.UpdatedAt = time.Now()
	s.clusters[cluster.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateClusterStatus(ctx context.Context, id string, status types.ClusterStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cluster, ok := s.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	cluster.Status = status
	cluster.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateClusterHeartbeat(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cluster, ok := s.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	cluster.LastHeartbeat = &at
	return nil
}

func (s *MemoryStore) CreateAgent(ctx context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if existing.OrganizationID == agent.OrganizationID && existing.Name == agent.Name {
			return fmt.Errorf("agent %s: %w", agent.Name, types.ErrConflict)
		}
	}
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, types.ErrNotFound)
	}
	cp := *agent
	return &cp, nil
}

func (s *MemoryStore) GetAgentByName(ctx context.Context, orgID, name string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, agent := range s.agents {
		if agent.OrganizationID == orgID && agent.Name == name {
			cp := *agent
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("agent %s/%s: %w", orgID, name, types.ErrNotFound)
}

func (s *MemoryStore) ListAgentsByOrg(ctx context.Context, orgID string) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var agents []*types.Agent
	for _, agent := range s.agents {
		if agent.OrganizationID == orgID {
			cp := *agent
			agents = append(agents, &cp)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *MemoryStore) UpdateAgent(ctx context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; !ok {
		return fmt.Errorf("agent %s: %w", agent.ID, types.ErrNotFound)
	}
	cp := *agent
	cp.UpdatedAt = time.Now()
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateAgentStatus(ctx context.Context, id string, status types.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, types.ErrNotFound)
	}
	agent.Status = status
	agent.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateExecution(ctx context.Context, exec *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
	}
	cp := *exec
	return &cp, nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return fmt.Errorf("execution %s: %w", exec.ID, types.ErrNotFound)
	}
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

func (s *MemoryStore) ListExecutionsByOrg(ctx context.Context, orgID string, limit int) ([]*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var execs []*types.Execution
	for _, exec := range s.executions {
		if exec.OrganizationID == orgID {
			cp := *exec
			execs = append(execs, &cp)
		}
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].CreatedAt.After(execs[j].CreatedAt) })
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func (s *MemoryStore) InsertLogs(ctx context.Context, entries []*types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entries...)
	return nil
}

func (s *MemoryStore) InsertMetrics(ctx context.Context, points []*types.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, points...)
	return nil
}

func (s *MemoryStore) InsertSpans(ctx context.Context, spans []*types.TraceSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, spans...)
	return nil
}

func (s *MemoryStore) InsertAudit(ctx context.Context, entry *types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audits = append(s.audits, &cp)
	return nil
}

// LogCount reports the number of ingested log lines. Test helper.
func (s *MemoryStore) LogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// MetricCount reports the number of ingested metric points. Test helper.
func (s *MemoryStore) MetricCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// SpanCount reports the number of ingested spans. Test helper.
func (s *MemoryStore) SpanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

func (s *MemoryStore) Close() error {
	return nil
}
