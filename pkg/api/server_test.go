package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrydock/ferry/pkg/credentials"
	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	server *Server
	store  *storage.MemoryStore
	queue  *queue.MemoryQueue
	reg    *registry.Registry
	apiKey string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(0)
	reg := registry.New()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	creds := credentials.NewManager(store)
	execs := executions.NewService(store, q, broker)

	ctx := context.Background()
	require.NoError(t, store.CreateOrganization(ctx, &types.Organization{ID: "org-1", Name: "acme"}))
	_, apiKey, err := creds.IssueAPIKey(ctx, "org-1", "test", nil)
	require.NoError(t, err)

	return &testEnv{
		server: NewServer(store, creds, execs, reg, testSecret),
		store:  store,
		queue:  q,
		reg:    reg,
		apiKey: apiKey,
	}
}

func (e *testEnv) seedAgentAndCluster(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateAgent(ctx, &types.Agent{
		ID:             "ag-1",
		OrganizationID: "org-1",
		Name:           "summarizer",
		Image:          "img:v1",
		Status:         types.AgentStatusActive,
	}))
	hb := time.Now()
	require.NoError(t, e.store.CreateCluster(ctx, &types.Cluster{
		ID:             "cl-1",
		OrganizationID: "org-1",
		Name:           "prod",
		Status:         types.ClusterStatusActive,
		LastHeartbeat:  &hb,
	}))
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != nil {
		auth(req)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) withKey(req *http.Request) {
	req.Header.Set("X-API-Key", e.apiKey)
}

func TestHealthzNoAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		auth func(*http.Request)
	}{
		{"no credentials", nil},
		{"bad api key", func(r *http.Request) { r.Header.Set("X-API-Key", "ck_live_bogusbogusbogus") }},
		{"bad bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-token") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/v1/executions", nil, tt.auth)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestBearerTokenAuth(t *testing.T) {
	env := newTestEnv(t)

	token, err := MintToken(testSecret, "org-1", time.Hour)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/executions", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitExecution(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgentAndCluster(t)

	rec := env.do(t, http.MethodPost, "/v1/executions", submitExecutionRequest{
		AgentName: "summarizer",
		Input:     json.RawMessage(`{"doc":"report.pdf"}`),
		Priority:  "high",
	}, env.withKey)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp executionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "high", resp.Priority)
	assert.Equal(t, "cl-1", resp.ClusterID)

	depth, err := env.queue.Depth(context.Background(), "org-1", "cl-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestSubmitExecutionUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/executions", submitExecutionRequest{AgentName: "missing"}, env.withKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitExecutionQueueFull(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgentAndCluster(t)

	// Shrink the queue by filling it through a limited instance.
	small := queue.NewMemoryQueue(1)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	creds := credentials.NewManager(env.store)
	execs := executions.NewService(env.store, small, broker)
	server := NewServer(env.store, creds, execs, env.reg, testSecret)

	body := submitExecutionRequest{AgentName: "summarizer"}
	for i, want := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/v1/executions", &buf)
		env.withKey(req)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "request %d", i)
	}
}

func TestGetExecutionScoping(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgentAndCluster(t)

	rec := env.do(t, http.MethodPost, "/v1/executions", submitExecutionRequest{AgentName: "summarizer"}, env.withKey)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created executionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = env.do(t, http.MethodGet, "/v1/executions/"+created.ID, nil, env.withKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A different tenant sees 404, not 403.
	other, err := MintToken(testSecret, "org-2", time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/executions/"+created.ID, nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+other)
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAgent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/agents", registerAgentRequest{
		Name:  "summarizer",
		Image: "registry.example.com/summarizer:v1",
		Env:   map[string]string{"MODEL": "large"},
	}, env.withKey)
	require.Equal(t, http.StatusOK, rec.Code)

	agent, err := env.store.GetAgentByName(context.Background(), "org-1", "summarizer")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/summarizer:v1", agent.Image)

	rec = env.do(t, http.MethodPost, "/v1/agents", registerAgentRequest{Name: "summarizer"}, env.withKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListClusters(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgentAndCluster(t)
	env.reg.Register(registry.NewClusterConnection("cl-1", "org-1", "v1"))

	rec := env.do(t, http.MethodGet, "/v1/clusters", nil, env.withKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Clusters []clusterResponse `json:"clusters"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Clusters, 1)
	assert.Equal(t, "prod", resp.Clusters[0].Name)
	assert.True(t, resp.Clusters[0].Connected)
}
