package executions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/types"
)

// AgentSpec is the input to RegisterAgent.
type AgentSpec struct {
	Name          string
	Image         string
	Resources     *types.AgentResources
	RetryPolicy   *types.RetryPolicy
	ConfigHash    string
	UseSandbox    bool
	WarmPoolSize  int
	NetworkPolicy string
	Env           map[string]string
}

// RegisterAgent upserts an agent definition and pushes it to every
// active cluster of the organization at high priority so registrations
// jump ahead of buffered work.
func (s *Service) RegisterAgent(ctx context.Context, orgID string, spec AgentSpec) (*types.Agent, error) {
	agent, err := s.store.GetAgentByName(ctx, orgID, spec.Name)
	switch {
	case err == nil:
		if agent.ConfigHash != "" && agent.ConfigHash == spec.ConfigHash && agent.Image == spec.Image {
			// Identical definition; nothing to push.
			return agent, nil
		}
		agent.Image = spec.Image
		agent.Resources = spec.Resources
		agent.RetryPolicy = spec.RetryPolicy
		agent.ConfigHash = spec.ConfigHash
		agent.UseSandbox = spec.UseSandbox
		agent.WarmPoolSize = spec.WarmPoolSize
		agent.NetworkPolicy = spec.NetworkPolicy
		agent.Env = spec.Env
		agent.Status = types.AgentStatusPending
		if err := s.store.UpdateAgent(ctx, agent); err != nil {
			return nil, fmt.Errorf("failed to update agent: %w", err)
		}
	case errors.Is(err, types.ErrNotFound):
		agent = &types.Agent{
			ID:             types.NewID("ag"),
			OrganizationID: orgID,
			Name:           spec.Name,
			Image:          spec.Image,
			Resources:      spec.Resources,
			RetryPolicy:    spec.RetryPolicy,
			Status:         types.AgentStatusPending,
			ConfigHash:     spec.ConfigHash,
			UseSandbox:     spec.UseSandbox,
			WarmPoolSize:   spec.WarmPoolSize,
			NetworkPolicy:  spec.NetworkPolicy,
			Env:            spec.Env,
			CreatedAt:      time.Now(),
		}
		if err := s.store.CreateAgent(ctx, agent); err != nil {
			return nil, fmt.Errorf("failed to create agent: %w", err)
		}
	default:
		return nil, err
	}

	clusters, err := s.store.ListClustersByStatus(ctx, types.ClusterStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active clusters: %w", err)
	}
	for _, cluster := range clusters {
		if cluster.OrganizationID != orgID {
			continue
		}
		if err := s.pushRegistration(ctx, agent, cluster.ID); err != nil {
			log.WithClusterID(cluster.ID).Warn().Err(err).
				Str("agent", agent.Name).
				Msg("Failed to push agent registration")
		}
	}
	return agent, nil
}

// PushRegistrations enqueues the organization's known agents onto one
// cluster. Called on stream attach so a fresh relayer learns its agent
// set without waiting for the next definition change.
func (s *Service) PushRegistrations(ctx context.Context, orgID, clusterID string) error {
	agents, err := s.store.ListAgentsByOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	for _, agent := range agents {
		if err := s.pushRegistration(ctx, agent, clusterID); err != nil {
			log.WithClusterID(clusterID).Warn().Err(err).
				Str("agent", agent.Name).
				Msg("Failed to push agent registration")
		}
	}
	return nil
}

func (s *Service) pushRegistration(ctx context.Context, agent *types.Agent, clusterID string) error {
	msg := &types.QueueMessage{
		Kind:       types.MessageKindRegistration,
		Priority:   types.PriorityHigh,
		EnqueuedAt: time.Now(),
		Registration: &types.RegistrationMessage{
			AgentID:       agent.ID,
			AgentName:     agent.Name,
			Image:         agent.Image,
			Resources:     agent.Resources,
			RetryPolicy:   agent.RetryPolicy,
			ConfigHash:    agent.ConfigHash,
			UseSandbox:    agent.UseSandbox,
			WarmPoolSize:  agent.WarmPoolSize,
			NetworkPolicy: agent.NetworkPolicy,
			Env:           agent.Env,
		},
	}
	if err := s.queue.Enqueue(ctx, agent.OrganizationID, clusterID, msg); err != nil {
		return err
	}
	metrics.MessagesEnqueued.WithLabelValues(string(types.MessageKindRegistration), string(types.PriorityHigh)).Inc()
	return nil
}

// HandleRegistrationStatus applies a relayer's acknowledgment of an
// agent_registration push.
func (s *Service) HandleRegistrationStatus(ctx context.Context, orgID, agentID string, success bool, errMsg string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.OrganizationID != orgID {
		return fmt.Errorf("agent %s: %w", agentID, types.ErrNotFound)
	}

	status := types.AgentStatusActive
	typ := events.EventAgentRegistered
	if !success {
		status = types.AgentStatusFailed
		typ = events.EventAgentFailed
	}
	if err := s.store.UpdateAgentStatus(ctx, agentID, status); err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	s.broker.Publish(&events.Event{
		Type:    typ,
		Message: fmt.Sprintf("agent %s registration %s", agent.Name, status),
		Metadata: map[string]string{
			"agent_id": agentID,
			"error":    errMsg,
		},
	})
	return nil
}
