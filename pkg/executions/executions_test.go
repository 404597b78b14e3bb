package executions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *queue.MemoryQueue) {
	t.Helper()
	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(0)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return NewService(store, q, broker), store, q
}

func seedAgent(t *testing.T, store *storage.MemoryStore, orgID, name string) *types.Agent {
	t.Helper()
	agent := &types.Agent{
		ID:             types.NewID("ag"),
		OrganizationID: orgID,
		Name:           name,
		Image:          "registry.example.com/" + name + ":v1",
		Status:         types.AgentStatusActive,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.CreateAgent(context.Background(), agent))
	return agent
}

func seedCluster(t *testing.T, store *storage.MemoryStore, orgID, id string, status types.ClusterStatus, heartbeat time.Time) *types.Cluster {
	t.Helper()
	cluster := &types.Cluster{
		ID:             id,
		OrganizationID: orgID,
		Name:           id,
		Status:         status,
		LastHeartbeat:  &heartbeat,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.CreateCluster(context.Background(), cluster))
	return cluster
}

func TestSubmitEnqueuesOnActiveCluster(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())

	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{
		AgentName: "summarizer",
		Input:     json.RawMessage(`{"doc":"report.pdf"}`),
		Priority:  types.PriorityNormal,
	})
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionStatusQueued, exec.Status)
	assert.Equal(t, "cl-1", exec.ClusterID)
	require.NotNil(t, exec.QueuedAt)

	msg, err := q.Dequeue(ctx, "org-1", "cl-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, types.MessageKindWork, msg.Kind)
	assert.Equal(t, exec.ID, msg.Work.ExecutionID)
	assert.Equal(t, "summarizer", msg.Work.AgentName)

	stored, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, stored.Status)
}

func TestSubmitPicksMostRecentHeartbeat(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-old", types.ClusterStatusActive, time.Now().Add(-time.Minute))
	seedCluster(t, store, "org-1", "cl-new", types.ClusterStatusActive, time.Now())
	seedCluster(t, store, "org-1", "cl-down", types.ClusterStatusInactive, time.Now().Add(time.Hour))

	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)
	assert.Equal(t, "cl-new", exec.ClusterID)

	depth, err := q.Depth(ctx, "org-1", "cl-new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestSubmitNoActiveClusterStaysPending(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusInactive, time.Now())

	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusPending, exec.Status)
	assert.Empty(t, exec.ClusterID)
}

func TestSubmitUnknownAgent(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "org-1", SubmitRequest{AgentName: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSubmitQueueFull(t *testing.T) {
	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(1)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	svc := NewService(store, q, broker)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())

	_, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	assert.ErrorIs(t, err, types.ErrQueueFull)

	// The rejected execution stays pending for a later flush.
	execs, err := store.ListExecutionsByOrg(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	var pending *types.Execution
	for _, e := range execs {
		if e.Status == types.ExecutionStatusPending {
			pending = e
		}
	}
	require.NotNil(t, pending)

	// Draining the queue makes room and the flush picks it up.
	_, err = q.Dequeue(ctx, "org-1", "cl-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, svc.FlushPending(ctx, "org-1", "cl-1"))
	msg, err := q.Dequeue(ctx, "org-1", "cl-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, pending.ID, msg.Work.ExecutionID)
}

// recordingQueue checks at enqueue time whether the execution row is
// already visible, the window a fast relayer could hit.
type recordingQueue struct {
	queue.Queue
	store  *storage.MemoryStore
	sawRow bool
}

func (r *recordingQueue) Enqueue(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error {
	if msg.Kind == types.MessageKindWork {
		_, err := r.store.GetExecution(ctx, msg.Work.ExecutionID)
		r.sawRow = err == nil
	}
	return r.Queue.Enqueue(ctx, orgID, clusterID, msg)
}

func TestSubmitPersistsRowBeforeEnqueue(t *testing.T) {
	store := storage.NewMemoryStore()
	rq := &recordingQueue{Queue: queue.NewMemoryQueue(0), store: store}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	svc := NewService(store, rq, broker)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())

	_, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)
	assert.True(t, rq.sawRow, "work message enqueued before the execution row was persisted")
}

func TestFlushPending(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")

	// Submitted with no cluster attached.
	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)
	require.Equal(t, types.ExecutionStatusPending, exec.Status)

	require.NoError(t, svc.FlushPending(ctx, "org-1", "cl-1"))

	msg, err := q.Dequeue(ctx, "org-1", "cl-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, exec.ID, msg.Work.ExecutionID)

	stored, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, stored.Status)
	assert.Equal(t, "cl-1", stored.ClusterID)
}

func TestTransitionLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())
	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)

	got, err := svc.Transition(ctx, "org-1", StatusUpdate{ExecutionID: exec.ID, Status: types.ExecutionStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	got, err = svc.Transition(ctx, "org-1", StatusUpdate{
		ExecutionID: exec.ID,
		Status:      types.ExecutionStatusCompleted,
		Result:      json.RawMessage(`{"summary":"ok"}`),
		DurationMs:  1500,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, int64(1500), got.DurationMs)
	require.NotNil(t, got.CompletedAt)
}

func TestTransitionRejectsBackwardMove(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())
	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, "org-1", StatusUpdate{ExecutionID: exec.ID, Status: types.ExecutionStatusRunning})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, "org-1", StatusUpdate{ExecutionID: exec.ID, Status: types.ExecutionStatusCompleted})
	require.NoError(t, err)

	tests := []struct {
		name   string
		status types.ExecutionStatus
	}{
		{"back to running", types.ExecutionStatusRunning},
		{"back to queued", types.ExecutionStatusQueued},
		{"flip terminal state", types.ExecutionStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transition(ctx, "org-1", StatusUpdate{ExecutionID: exec.ID, Status: tt.status})
			assert.ErrorIs(t, err, types.ErrConflict)
		})
	}
}

func TestTransitionTerminalReplayIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())
	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, "org-1", StatusUpdate{ExecutionID: exec.ID, Status: types.ExecutionStatusRunning})
	require.NoError(t, err)
	first, err := svc.Transition(ctx, "org-1", StatusUpdate{
		ExecutionID: exec.ID,
		Status:      types.ExecutionStatusFailed,
		Error:       "agent crashed",
	})
	require.NoError(t, err)

	// Duplicate delivery of the same terminal report is harmless.
	replay, err := svc.Transition(ctx, "org-1", StatusUpdate{
		ExecutionID: exec.ID,
		Status:      types.ExecutionStatusFailed,
		Error:       "agent crashed",
	})
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, replay.CompletedAt)
	assert.Equal(t, "agent crashed", replay.Error)
}

func TestTransitionCrossTenantRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())
	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, "org-2", StatusUpdate{ExecutionID: exec.ID, Status: types.ExecutionStatusRunning})
	assert.ErrorIs(t, err, types.ErrNotFound)

	// The owning tenant is unaffected.
	stored, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, stored.Status)
}

func TestGetScopedToOrganization(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seedAgent(t, store, "org-1", "summarizer")
	seedCluster(t, store, "org-1", "cl-1", types.ClusterStatusActive, time.Now())
	exec, err := svc.Submit(ctx, "org-1", SubmitRequest{AgentName: "summarizer", Priority: types.PriorityNormal})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "org-1", exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)

	_, err = svc.Get(ctx, "org-2", exec.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
