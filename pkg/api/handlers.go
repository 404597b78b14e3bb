package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/types"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"connected_relayers": s.registry.Len(),
	})
}

type submitExecutionRequest struct {
	AgentName string          `json:"agentName"`
	Input     json.RawMessage `json:"input,omitempty"`
	Priority  string          `json:"priority,omitempty"`
}

type executionResponse struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agentId"`
	ClusterID   string          `json:"clusterId,omitempty"`
	Status      string          `json:"status"`
	Priority    string          `json:"priority"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"durationMs,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	QueuedAt    *time.Time      `json:"queuedAt,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

func toExecutionResponse(e *types.Execution) executionResponse {
	return executionResponse{
		ID:          e.ID,
		AgentID:     e.AgentID,
		ClusterID:   e.ClusterID,
		Status:      string(e.Status),
		Priority:    string(e.Priority),
		Result:      e.Result,
		Error:       e.Error,
		DurationMs:  e.DurationMs,
		CreatedAt:   e.CreatedAt,
		QueuedAt:    e.QueuedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
}

func (s *Server) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req submitExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agentName is required")
		return
	}

	exec, err := s.execs.Submit(r.Context(), id.OrganizationID, executions.SubmitRequest{
		AgentName: req.AgentName,
		Input:     req.Input,
		Priority:  types.ParsePriority(req.Priority),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.audit(r.Context(), id, "execution.submit", exec.ID, req)
	writeJSON(w, http.StatusAccepted, toExecutionResponse(exec))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	exec, err := s.execs.Get(r.Context(), id.OrganizationID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecutionResponse(exec))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	execs, err := s.execs.List(r.Context(), id.OrganizationID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		out = append(out, toExecutionResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

type registerAgentRequest struct {
	Name          string                `json:"name"`
	Image         string                `json:"image"`
	Resources     *types.AgentResources `json:"resources,omitempty"`
	RetryPolicy   *types.RetryPolicy    `json:"retryPolicy,omitempty"`
	ConfigHash    string                `json:"configHash,omitempty"`
	UseSandbox    bool                  `json:"useAgentSandbox,omitempty"`
	WarmPoolSize  int                   `json:"warmPoolSize,omitempty"`
	NetworkPolicy string                `json:"networkPolicy,omitempty"`
	Env           map[string]string     `json:"environmentVariables,omitempty"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Image == "" {
		writeError(w, http.StatusBadRequest, "name and image are required")
		return
	}

	agent, err := s.execs.RegisterAgent(r.Context(), id.OrganizationID, executions.AgentSpec{
		Name:          req.Name,
		Image:         req.Image,
		Resources:     req.Resources,
		RetryPolicy:   req.RetryPolicy,
		ConfigHash:    req.ConfigHash,
		UseSandbox:    req.UseSandbox,
		WarmPoolSize:  req.WarmPoolSize,
		NetworkPolicy: req.NetworkPolicy,
		Env:           req.Env,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.audit(r.Context(), id, "agent.register", agent.ID, req)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         agent.ID,
		"name":       agent.Name,
		"image":      agent.Image,
		"status":     string(agent.Status),
		"configHash": agent.ConfigHash,
	})
}

type clusterResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	RelayerVersion string     `json:"relayerVersion,omitempty"`
	Connected      bool       `json:"connected"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	clusters, err := s.store.ListClustersByOrg(r.Context(), id.OrganizationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, clusterResponse{
			ID:             c.ID,
			Name:           c.Name,
			Status:         string(c.Status),
			RelayerVersion: c.RelayerVersion,
			Connected:      s.registry.Get(c.ID) != nil,
			LastHeartbeat:  c.LastHeartbeat,
			CreatedAt:      c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": out})
}
