package executions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

// Service implements the execution lifecycle and submission path.
type Service struct {
	store  storage.Store
	queue  queue.Queue
	broker *events.Broker
}

// NewService creates the execution service.
func NewService(store storage.Store, q queue.Queue, broker *events.Broker) *Service {
	return &Service{store: store, queue: q, broker: broker}
}

// statusRank orders the lifecycle. Transitions must move strictly
// forward except for idempotent terminal replays.
func statusRank(s types.ExecutionStatus) int {
	switch s {
	case types.ExecutionStatusPending:
		return 0
	case types.ExecutionStatusQueued:
		return 1
	case types.ExecutionStatusRunning:
		return 2
	case types.ExecutionStatusCompleted, types.ExecutionStatusFailed:
		return 3
	default:
		return -1
	}
}

// SubmitRequest is the input to Submit.
type SubmitRequest struct {
	AgentName string
	Input     json.RawMessage
	Priority  types.Priority
}

// Submit creates an execution for the named agent and enqueues it on
// the organization's healthiest active cluster. The row is persisted
// pending before the queue write so a fast relayer can never report
// status against a row that does not exist yet. With no active
// cluster, or when the cluster's queue is full, the execution stays
// pending and is picked up on the next attach.
func (s *Service) Submit(ctx context.Context, orgID string, req SubmitRequest) (*types.Execution, error) {
	agent, err := s.store.GetAgentByName(ctx, orgID, req.AgentName)
	if err != nil {
		return nil, err
	}

	exec := &types.Execution{
		ID:             types.NewID("ex"),
		OrganizationID: orgID,
		AgentID:        agent.ID,
		Status:         types.ExecutionStatusPending,
		Priority:       req.Priority,
		Input:          req.Input,
		Attempt:        1,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	cluster, err := s.selectCluster(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		log.WithOrgID(orgID).Info().
			Str("execution_id", exec.ID).
			Str("agent", agent.Name).
			Msg("No active cluster, execution held pending")
		return exec, nil
	}

	if err := s.enqueueWork(ctx, exec, agent, cluster.ID); err != nil {
		if errors.Is(err, types.ErrQueueFull) {
			log.WithOrgID(orgID).Warn().
				Str("execution_id", exec.ID).
				Str("cluster_id", cluster.ID).
				Msg("Cluster queue full, execution held pending")
		}
		return nil, err
	}
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	metrics.ExecutionTransitions.WithLabelValues(string(types.ExecutionStatusQueued)).Inc()
	s.broker.Publish(&events.Event{
		Type:    events.EventExecutionQueued,
		Message: fmt.Sprintf("execution %s queued for cluster %s", exec.ID, cluster.ID),
		Metadata: map[string]string{
			"execution_id": exec.ID,
			"cluster_id":   cluster.ID,
			"agent":        agent.Name,
		},
	})
	return exec, nil
}

// enqueueWork pushes the work message and stamps the execution queued.
func (s *Service) enqueueWork(ctx context.Context, exec *types.Execution, agent *types.Agent, clusterID string) error {
	msg := &types.QueueMessage{
		Kind:       types.MessageKindWork,
		Priority:   exec.Priority,
		EnqueuedAt: time.Now(),
		Work: &types.WorkMessage{
			ExecutionID: exec.ID,
			AgentName:   agent.Name,
			Input:       exec.Input,
		},
	}
	if err := s.queue.Enqueue(ctx, exec.OrganizationID, clusterID, msg); err != nil {
		return err
	}
	now := time.Now()
	exec.Status = types.ExecutionStatusQueued
	exec.ClusterID = clusterID
	exec.QueuedAt = &now
	metrics.MessagesEnqueued.WithLabelValues(string(types.MessageKindWork), string(exec.Priority)).Inc()
	return nil
}

// selectCluster picks the organization's active cluster with the most
// recent heartbeat. Returns nil with no error when none is active.
func (s *Service) selectCluster(ctx context.Context, orgID string) (*types.Cluster, error) {
	clusters, err := s.store.ListClustersByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	var best *types.Cluster
	for _, c := range clusters {
		if c.Status != types.ClusterStatusActive {
			continue
		}
		if best == nil || heartbeatAfter(c, best) {
			best = c
		}
	}
	return best, nil
}

func heartbeatAfter(a, b *types.Cluster) bool {
	if a.LastHeartbeat == nil {
		return false
	}
	if b.LastHeartbeat == nil {
		return true
	}
	return a.LastHeartbeat.After(*b.LastHeartbeat)
}

// FlushPending enqueues the organization's pending executions onto a
// newly attached cluster. Called from the session layer after a stream
// authenticates.
func (s *Service) FlushPending(ctx context.Context, orgID, clusterID string) error {
	execs, err := s.store.ListExecutionsByOrg(ctx, orgID, 0)
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}
	for _, exec := range execs {
		if exec.Status != types.ExecutionStatusPending {
			continue
		}
		agent, err := s.store.GetAgent(ctx, exec.AgentID)
		if err != nil {
			log.WithExecutionID(exec.ID).Error().Err(err).Msg("Failed to resolve agent for pending execution")
			continue
		}
		if err := s.enqueueWork(ctx, exec, agent, clusterID); err != nil {
			log.WithExecutionID(exec.ID).Warn().Err(err).Msg("Failed to flush pending execution")
			continue
		}
		if err := s.store.UpdateExecution(ctx, exec); err != nil {
			return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
		}
		metrics.ExecutionTransitions.WithLabelValues(string(types.ExecutionStatusQueued)).Inc()
	}
	return nil
}

// StatusUpdate is a lifecycle report, usually relayed from a stream.
type StatusUpdate struct {
	ExecutionID string
	Status      types.ExecutionStatus
	Result      json.RawMessage
	Error       string
	DurationMs  int64
}

// Transition applies a status report to an execution. Reports for
// executions owned by another organization are rejected as not found.
// Replaying the current terminal status is a no-op; any other backward
// move is a conflict.
func (s *Service) Transition(ctx context.Context, orgID string, upd StatusUpdate) (*types.Execution, error) {
	exec, err := s.store.GetExecution(ctx, upd.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec.OrganizationID != orgID {
		// Do not reveal the execution's existence across tenants.
		return nil, fmt.Errorf("execution %s: %w", upd.ExecutionID, types.ErrNotFound)
	}

	from, to := statusRank(exec.Status), statusRank(upd.Status)
	if to < 0 {
		return nil, fmt.Errorf("unknown status %q: %w", upd.Status, types.ErrConflict)
	}
	if exec.Status == upd.Status && exec.Status.Terminal() {
		return exec, nil
	}
	if to <= from {
		return nil, fmt.Errorf("cannot move execution %s from %s to %s: %w",
			exec.ID, exec.Status, upd.Status, types.ErrConflict)
	}

	now := time.Now()
	exec.Status = upd.Status
	switch upd.Status {
	case types.ExecutionStatusQueued:
		exec.QueuedAt = &now
	case types.ExecutionStatusRunning:
		exec.StartedAt = &now
	case types.ExecutionStatusCompleted, types.ExecutionStatusFailed:
		exec.CompletedAt = &now
		exec.Result = upd.Result
		exec.Error = upd.Error
		exec.DurationMs = upd.DurationMs
		if upd.DurationMs == 0 && exec.StartedAt != nil {
			exec.DurationMs = now.Sub(*exec.StartedAt).Milliseconds()
		}
		metrics.ExecutionDuration.Observe(float64(exec.DurationMs) / 1000)
	}

	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	metrics.ExecutionTransitions.WithLabelValues(string(upd.Status)).Inc()
	s.publishTransition(exec)
	return exec, nil
}

func (s *Service) publishTransition(exec *types.Execution) {
	var typ events.EventType
	switch exec.Status {
	case types.ExecutionStatusQueued:
		typ = events.EventExecutionQueued
	case types.ExecutionStatusRunning:
		typ = events.EventExecutionRunning
	case types.ExecutionStatusCompleted:
		typ = events.EventExecutionCompleted
	case types.ExecutionStatusFailed:
		typ = events.EventExecutionFailed
	default:
		return
	}
	s.broker.Publish(&events.Event{
		Type:    typ,
		Message: fmt.Sprintf("execution %s is %s", exec.ID, exec.Status),
		Metadata: map[string]string{
			"execution_id": exec.ID,
			"cluster_id":   exec.ClusterID,
		},
	})
}

// Get returns an execution scoped to the caller's organization.
func (s *Service) Get(ctx context.Context, orgID, id string) (*types.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.OrganizationID != orgID {
		return nil, fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
	}
	return exec, nil
}

// List returns the organization's executions, newest first.
func (s *Service) List(ctx context.Context, orgID string, limit int) ([]*types.Execution, error) {
	return s.store.ListExecutionsByOrg(ctx, orgID, limit)
}
